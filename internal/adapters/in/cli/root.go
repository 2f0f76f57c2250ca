// Package cli implements the CLI adapter for quaypush.
// This package provides Cobra commands that delegate to the app layer.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/quaypush/internal/app"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// configPath is shared by every command.
var configPath string

// NewRootCmd creates the root command for the quaypush CLI.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quaypush",
		Short: "quaypush - publish container images and operators to Quay",
		Long: `quaypush publishes container images and operator bundles to a Quay
organization. A failed push restores every destination tag to the state it
had before the run.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(newPushCmd())
	rootCmd.AddCommand(newRemoveRepoCmd())
	rootCmd.AddCommand(newMergeManifestListCmd())
	rootCmd.AddCommand(newTagMergeCmd())
	rootCmd.AddCommand(newIIBAddBundlesCmd())
	rootCmd.AddCommand(newIIBRemoveOperatorsCmd())
	rootCmd.AddCommand(newIIBBuildFromScratchCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// Execute runs the CLI and exits with a non-zero status on failure.
func Execute(version, commit, date string) {
	SetVersionInfo(version, commit, date)
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newPushCmd() *cobra.Command {
	var itemsPath string

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Publish push items",
		Long: `Publish the container images and operator bundles listed in a JSON
push items file.

Examples:
  quaypush push --push-items items.json
  quaypush push --push-items items.json --config /etc/quaypush/prod.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Push(cmd.Context(), configPath, itemsPath)
		},
	}

	cmd.Flags().StringVar(&itemsPath, "push-items", "", "Path to the JSON push items file")
	_ = cmd.MarkFlagRequired("push-items")

	return cmd
}

func newRemoveRepoCmd() *cobra.Command {
	var opts app.RemoveRepoOptions

	cmd := &cobra.Command{
		Use:   "remove-repo",
		Short: "Remove a repository and its signatures",
		Long: `Remove a repository from Quay after deleting its signatures, and
optionally announce the removal on the message bus.

Examples:
  quaypush remove-repo --repository ns/repo
  quaypush remove-repo --repository ns/repo --send-umb-msg --umb-url amqps://umb:5671 --umb-cert cert.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RemoveRepo(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Repository, "repository", "", "External repository to remove, <namespace>/<repo>")
	cmd.Flags().StringVar(&opts.Namespace, "namespace", "", "Quay organization (default: quay.namespace)")
	cmd.Flags().BoolVar(&opts.Notify, "send-umb-msg", false, "Announce the removal on the message bus")
	cmd.Flags().StringArrayVar(&opts.URLs, "umb-url", nil, "Message bus broker URL (repeatable)")
	cmd.Flags().StringVar(&opts.CertFile, "umb-cert", "", "Client certificate for the message bus")
	cmd.Flags().StringVar(&opts.KeyFile, "umb-client-key", "", "Client key for the message bus")
	cmd.Flags().StringVar(&opts.CAFile, "umb-ca-cert", "", "CA certificate for the message bus")
	cmd.Flags().StringVar(&opts.Topic, "umb-topic", "", "Topic of the removal message")
	_ = cmd.MarkFlagRequired("repository")

	return cmd
}

func newMergeManifestListCmd() *cobra.Command {
	var src, dest string

	cmd := &cobra.Command{
		Use:   "merge-manifest-list",
		Short: "Merge a manifest list into another without dropping architectures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.MergeManifestList(cmd.Context(), configPath, src, dest)
		},
	}

	cmd.Flags().StringVar(&src, "source", "", "Source manifest list reference")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination manifest list reference")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func newTagMergeCmd() *cobra.Command {
	var (
		src, dest string
		archs     []string
	)

	cmd := &cobra.Command{
		Use:   "tag-merge",
		Short: "Publish selected architectures of a manifest list to a tag",
		Long: `Publish the selected architectures of the source manifest list to the
destination tag. Architectures already at the destination and not selected
are kept.

Examples:
  quaypush tag-merge --source quay.io/ns/repo:1-src --dest quay.io/ns/repo:1 --arch amd64 --arch arm64`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.TagMerge(cmd.Context(), configPath, src, dest, archs)
		},
	}

	cmd.Flags().StringVar(&src, "source", "", "Source manifest list reference")
	cmd.Flags().StringVar(&dest, "dest", "", "Destination reference")
	cmd.Flags().StringArrayVar(&archs, "arch", nil, "Architecture to publish (repeatable)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("dest")

	return cmd
}

func newIIBAddBundlesCmd() *cobra.Command {
	var opts app.IndexTaskOptions

	cmd := &cobra.Command{
		Use:   "iib-add-bundles",
		Short: "Add bundles to an index image and publish it",
		Long: `Add operator bundles to an index image, sign the new index and copy it
to the operator repository under the tag given by the build service.

Examples:
  quaypush iib-add-bundles --index-image registry.example.com/ns/index:v4.14 \
    --bundle registry.example.com/ns/bundle:1.0 --arch amd64 --signing-key key1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.IIBAddBundles(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.IndexImage, "index-image", "", "Index image to add the bundles to (default: iib.index_image)")
	cmd.Flags().StringArrayVar(&opts.Bundles, "bundle", nil, "Bundle to add (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Archs, "arch", nil, "Architecture to build for (repeatable)")
	cmd.Flags().StringSliceVar(&opts.DeprecationList, "deprecation-list", nil, "Comma separated bundles to deprecate")
	cmd.Flags().StringArrayVar(&opts.SigningKeys, "signing-key", nil, "Signing key (repeatable)")
	_ = cmd.MarkFlagRequired("bundle")

	return cmd
}

func newIIBRemoveOperatorsCmd() *cobra.Command {
	var opts app.IndexTaskOptions

	cmd := &cobra.Command{
		Use:   "iib-remove-operators",
		Short: "Remove operators from an index image and publish it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.IIBRemoveOperators(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringVar(&opts.IndexImage, "index-image", "", "Index image to remove the operators from (default: iib.index_image)")
	cmd.Flags().StringArrayVar(&opts.Operators, "operator", nil, "Operator package to remove (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Archs, "arch", nil, "Architecture to build for (repeatable)")
	cmd.Flags().StringArrayVar(&opts.SigningKeys, "signing-key", nil, "Signing key (repeatable)")
	_ = cmd.MarkFlagRequired("operator")

	return cmd
}

func newIIBBuildFromScratchCmd() *cobra.Command {
	var opts app.IndexTaskOptions

	cmd := &cobra.Command{
		Use:   "iib-build-from-scratch",
		Short: "Build a new index image from bundles and publish it",
		Long: `Build an index image that holds only the given bundles, sign it and copy
it to the operator repository under the given tag.

Examples:
  quaypush iib-build-from-scratch --bundle registry.example.com/ns/bundle:1.0 \
    --index-image-tag v4.14-custom --signing-key key1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.IIBBuildFromScratch(cmd.Context(), configPath, opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Bundles, "bundle", nil, "Bundle to add (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Archs, "arch", nil, "Architecture to build for (repeatable)")
	cmd.Flags().StringVar(&opts.Tag, "index-image-tag", "", "Tag of the new index image")
	cmd.Flags().StringArrayVar(&opts.SigningKeys, "signing-key", nil, "Signing key (repeatable)")
	_ = cmd.MarkFlagRequired("bundle")
	_ = cmd.MarkFlagRequired("index-image-tag")

	return cmd
}

// newVersionCmd creates the version command.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("quaypush %s\n", Version)
			cmd.Printf("Commit: %s\n", Commit)
			cmd.Printf("Build Date: %s\n", BuildDate)
		},
	}
}

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(version, commit, date string) {
	Version = version
	Commit = commit
	BuildDate = date
}
