package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
)

// stdout receives command output
var stdout io.Writer = os.Stdout

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "lathe",
		Description: "Lathe - A component workspace build tool",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("lathe", flag.ExitOnError),
	}

	root.Subcommands["build"] = newBuildCommand()
	root.Subcommands["order"] = newOrderCommand()
	root.Subcommands["stale"] = newStaleCommand()
	root.Subcommands["clean"] = newCleanCommand()
	root.Subcommands["baseline"] = newBaselineCommand()
	root.Subcommands["repos"] = newReposCommand()
	root.Subcommands["release"] = newReleaseCommand()
	root.Subcommands["watch"] = newWatchCommand()
	root.Subcommands["serve"] = newServeCommand()

	return root
}

// Execute runs the command named by the process arguments
func (c *Command) Execute() error {
	return c.execute(os.Args[1:])
}

func (c *Command) execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(stdout, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(stdout, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// newCommand creates a subcommand whose flags are parsed before run
func newCommand(name, description string, setup func(fs *flag.FlagSet), run func(fs *flag.FlagSet) error) *Command {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.String("workspace", "", "Workspace root (defaults to LATHE_WORKSPACE or the current directory)")
	if setup != nil {
		setup(fs)
	}
	return &Command{
		Name:        name,
		Description: description,
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			return run(fs)
		},
	}
}

func flagString(fs *flag.FlagSet, name string) string {
	return fs.Lookup(name).Value.String()
}

func flagBool(fs *flag.FlagSet, name string) bool {
	return fs.Lookup(name).Value.String() == "true"
}
