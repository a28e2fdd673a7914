package script

import (
	"fmt"
	"os"
	"strconv"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	rpcClient *client.Client

	// ScriptCommands represents the scripting command group
	ScriptCommands = &cobra.Command{
		Use:                "script",
		Short:              "Run and manage Lua scripts",
		PersistentPreRunE:  setupScriptClient,
		PersistentPostRunE: closeScriptClient,
	}

	evalCmd = &cobra.Command{
		Use:   "eval [script|@file] [numkeys] [key...] [arg...]",
		Short: "Runs a Lua script",
		Long:  "Runs a Lua script. A script argument starting with @ is read from that file (e.g. @incr.lua)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(args[0])
			if err != nil {
				return err
			}
			keys, argv, err := splitKeys(args[1], args[2:])
			if err != nil {
				return err
			}
			v, err := rpcClient.Eval(source, keys, argv...)
			if err != nil {
				return err
			}
			util.PrintValue(os.Stdout, v)
			return nil
		},
	}
	evalSHACmd = &cobra.Command{
		Use:   "evalsha [sha1] [numkeys] [key...] [arg...]",
		Short: "Runs a cached Lua script by its SHA1 digest",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, argv, err := splitKeys(args[1], args[2:])
			if err != nil {
				return err
			}
			v, err := rpcClient.EvalSHA(args[0], keys, argv...)
			if err != nil {
				return err
			}
			util.PrintValue(os.Stdout, v)
			return nil
		},
	}
	loadCmd = &cobra.Command{
		Use:   "load [script|@file]",
		Short: "Caches a Lua script and prints its SHA1 digest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := readSource(args[0])
			if err != nil {
				return err
			}
			sha, err := rpcClient.ScriptLoad(source)
			if err != nil {
				return err
			}
			fmt.Println(sha)
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [sha1...]",
		Short: "Checks which scripts are cached",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := rpcClient.ScriptExists(args...)
			if err != nil {
				return err
			}
			for i, sha := range args {
				fmt.Printf("%s: %t\n", sha, found[i])
			}
			return nil
		},
	}
	flushCmd = &cobra.Command{
		Use:   "flush",
		Short: "Removes all cached scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rpcClient.ScriptFlush(); err != nil {
				return err
			}
			fmt.Println("OK")
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	// Add common RPC flags to the script command
	util.SetupRPCClientFlags(ScriptCommands)

	// Add subcommands
	ScriptCommands.AddCommand(evalCmd)
	ScriptCommands.AddCommand(evalSHACmd)
	ScriptCommands.AddCommand(loadCmd)
	ScriptCommands.AddCommand(existsCmd)
	ScriptCommands.AddCommand(flushCmd)
}

func setupScriptClient(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	var err error
	rpcClient, err = util.NewClient()
	return err
}

func closeScriptClient(_ *cobra.Command, _ []string) error {
	if rpcClient == nil {
		return nil
	}
	return rpcClient.Close()
}

// readSource returns arg, or the content of the file if arg starts with @
func readSource(arg string) (string, error) {
	if len(arg) < 2 || arg[0] != '@' {
		return arg, nil
	}
	b, err := os.ReadFile(arg[1:])
	if err != nil {
		return "", fmt.Errorf("failed to read script: %w", err)
	}
	return string(b), nil
}

// splitKeys splits rest into numKeys keys and the remaining arguments
func splitKeys(numKeys string, rest []string) ([]string, []string, error) {
	n, err := strconv.Atoi(numKeys)
	if err != nil || n < 0 {
		return nil, nil, fmt.Errorf("numkeys must be a non negative number")
	}
	if n > len(rest) {
		return nil, nil, fmt.Errorf("numkeys is greater than the number of arguments")
	}
	return rest[:n], rest[n:], nil
}
