package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/glaciervm/glacier/pkg/native"
	"github.com/glaciervm/glacier/pkg/vm"
)

var version = "dev"

var (
	flagClassPath  string
	flagProperties []string
	flagVerbose    []string
)

var rootCmd = &cobra.Command{
	Use:   "glacier [flags] <mainclass> [args...]",
	Short: "A Java virtual machine",
	Long: `glacier loads compiled class files, links and initializes them, and
interprets their bytecode. The class path accepts directories and jar
archives separated by the platform path separator.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		os.Exit(run(args[0], args[1:]))
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("glacier version %s\n", version)
	},
}

func init() {
	rootCmd.Flags().StringVar(&flagClassPath, "classpath", ".", "class search path of directories and jar archives")
	rootCmd.Flags().StringArrayVarP(&flagProperties, "define", "D", nil, "set a system property (key=value)")
	rootCmd.Flags().StringSliceVar(&flagVerbose, "verbose", nil, "verbose subsystems: class, gc, execute, jni, debug")

	// --cp is the customary spelling of --classpath. No one-letter
	// shorthand: with -c bound, a java-style "-cp" would silently
	// parse as -c with value "p" instead of erroring.
	rootCmd.Flags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		if name == "cp" {
			name = "classpath"
		}
		return pflag.NormalizedName(name)
	})

	rootCmd.AddCommand(versionCmd)
}

func run(mainClass string, args []string) int {
	opts := &vm.Options{
		ClassPath:  flagClassPath,
		Properties: make(map[string]string),
	}

	for _, pair := range flagProperties {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			fmt.Fprintf(os.Stderr, "invalid property definition %q\n", pair)
			return 1
		}
		opts.Properties[key] = value
	}

	for _, subsystem := range flagVerbose {
		switch subsystem {
		case "class":
			opts.Verbose.Class = true
		case "gc":
			opts.Verbose.GC = true
		case "execute":
			opts.Verbose.Execute = true
		case "jni":
			opts.Verbose.JNI = true
		case "debug":
			opts.Verbose.Debug = true
		default:
			fmt.Fprintf(os.Stderr, "unknown verbose subsystem %q\n", subsystem)
			return 1
		}
	}

	if len(flagVerbose) > 0 {
		logger, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "creating logger: %v\n", err)
			return 1
		}
		defer logger.Sync()
		opts.Logger = logger
	}

	v := vm.New(opts)
	native.Install(v)
	if err := v.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing VM: %v\n", err)
		return 1
	}
	return v.Run(mainClass, args)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
