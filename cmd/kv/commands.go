package kv

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ValentinKolb/rKV/cmd/util"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/spf13/cobra"
)

var (
	setCmd = &cobra.Command{
		Use:   "set [key] [value]",
		Short: "Sets the value for a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			nx, _ := cmd.Flags().GetBool("nx")
			xx, _ := cmd.Flags().GetBool("xx")

			var opts []string
			if nx {
				opts = append(opts, "NX")
			}
			if xx {
				opts = append(opts, "XX")
			}

			ok, err := rpcClient.SetWith(args[0], args[1], ttl, opts...)
			if err != nil {
				return err
			}
			if ok {
				fmt.Println("OK")
			} else {
				fmt.Println("(nil)")
			}
			return nil
		},
	}
	getCmd = &cobra.Command{
		Use:   "get [key]",
		Short: "Reads the value for a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, found, err := rpcClient.Get(args[0])
			if err != nil {
				return err
			}
			if !found {
				fmt.Println("(nil)")
				return nil
			}
			fmt.Printf("%q\n", value)
			return nil
		},
	}
	delCmd = &cobra.Command{
		Use:   "del [key...]",
		Short: "Deletes keys",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcClient.Del(args...)
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", n)
			return nil
		},
	}
	existsCmd = &cobra.Command{
		Use:   "exists [key...]",
		Short: "Counts how many of the keys exist",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcClient.Exists(args...)
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", n)
			return nil
		},
	}
	expireCmd = &cobra.Command{
		Use:   "expire [key] [ttl]",
		Short: "Sets a time to live on a key (e.g. 10s, 1500ms)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := time.ParseDuration(args[1])
			if err != nil {
				return fmt.Errorf("ttl must be a duration: %w", err)
			}
			ok, err := rpcClient.Expire(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", boolInt(ok))
			return nil
		},
	}
	persistCmd = &cobra.Command{
		Use:   "persist [key]",
		Short: "Removes the time to live of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := rpcClient.Persist(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", boolInt(ok))
			return nil
		},
	}
	ttlCmd = &cobra.Command{
		Use:   "ttl [key]",
		Short: "Shows the remaining time to live of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, err := rpcClient.TTL(args[0])
			if err != nil {
				return err
			}
			switch ttl {
			case client.TTLMissing:
				fmt.Println("key does not exist")
			case client.TTLPersistent:
				fmt.Println("key has no time to live")
			default:
				fmt.Println(ttl)
			}
			return nil
		},
	}
	incrCmd = &cobra.Command{
		Use:   "incr [key] [delta]",
		Short: "Increments the integer value of a key (delta defaults to 1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta := int64(1)
			if len(args) == 2 {
				var err error
				if delta, err = strconv.ParseInt(args[1], 10, 64); err != nil {
					return fmt.Errorf("delta must be a number: %w", err)
				}
			}
			n, err := rpcClient.IncrBy(args[0], delta)
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", n)
			return nil
		},
	}
	dbSizeCmd = &cobra.Command{
		Use:   "dbsize",
		Short: "Counts the keys of the selected database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := rpcClient.DBSize()
			if err != nil {
				return err
			}
			fmt.Printf("(integer) %d\n", n)
			return nil
		},
	}
	execCmd = &cobra.Command{
		Use:   "exec [command] [args...]",
		Short: "Sends an arbitrary command and prints the reply",
		Long:  "Sends an arbitrary command (e.g. 'exec HSET user name alice') and prints the reply the way redis-cli does",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := rpcClient.Do(args[0], args[1:]...)
			if err != nil {
				return err
			}
			util.PrintValue(os.Stdout, v)
			return nil
		},
	}
)

func init() {
	setCmd.Flags().Duration("ttl", 0, util.WrapString("Time to live of the key (0 = no expiry)"))
	setCmd.Flags().Bool("nx", false, util.WrapString("Only set the key if it does not exist"))
	setCmd.Flags().Bool("xx", false, util.WrapString("Only set the key if it already exists"))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
