package util

import (
	"fmt"
	"io"
	"strings"

	"github.com/ValentinKolb/rKV/lib/resp"
	"github.com/ValentinKolb/rKV/rpc/client"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/ValentinKolb/rKV/rpc/transport/tcp"
	"github.com/ValentinKolb/rKV/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50

	// EnvPrefix is the prefix of all environment variables (RKV_<FLAG>)
	EnvPrefix = "rkv"
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		wordWidth := len(word)

		// Check if we need to wrap
		if lineWidth > 0 && lineWidth+1+wordWidth > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}

		// Add space before word (if not first word on line)
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}

		// Add the word
		currentLine.WriteString(word)
		lineWidth += wordWidth
	}

	// Add any remaining text
	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}

	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads the env files and makes viper read RKV_* variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// SetupRPCClientFlags adds common RPC connection flags to a command
func SetupRPCClientFlags(cmd *cobra.Command) {
	key := "timeout"
	cmd.PersistentFlags().Int(key, 10, WrapString("The timeout in seconds of the client"))

	key = "transport-endpoints"
	cmd.PersistentFlags().String(key, "localhost:6379", WrapString("The address of the rKV server. Multiple endpoints can be specified as a comma-separated list, requests are balanced round robin"))

	key = "transport-conn-per-endpoint"
	cmd.PersistentFlags().Int(key, 1, WrapString("Simultaneous connections per endpoint"))

	key = "transport-retries"
	cmd.PersistentFlags().Int(key, 3, WrapString("How many times to retry a request that could not be sent"))

	key = "transport-write-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket write buffer (in KB)"))

	key = "transport-read-buffer"
	cmd.PersistentFlags().Int(key, 512, WrapString("The size of the socket read buffer (in KB)"))

	key = "transport-tcp-nodelay"
	cmd.PersistentFlags().Bool(key, true, WrapString("Whether to enable TCP_NODELAY (only for tcp)"))

	key = "transport-tcp-keepalive"
	cmd.PersistentFlags().Int(key, 0, WrapString("The keepalive interval (in seconds, only for tcp)"))

	key = "transport-tcp-linger"
	cmd.PersistentFlags().Int(key, -1, WrapString("The linger time (in seconds, only for tcp, negative keeps the OS default)"))

	key = "protocol"
	cmd.PersistentFlags().Int(key, 2, WrapString("The RESP protocol version to negotiate (2 or 3)"))

	key = "db"
	cmd.PersistentFlags().Int(key, 0, WrapString("The database to select"))
}

// GetClientConfig reads client configuration from viper
func GetClientConfig() (*common.ClientConfig, error) {
	protocol := viper.GetInt("protocol")
	if protocol != resp.Proto2 && protocol != resp.Proto3 {
		return nil, fmt.Errorf("invalid protocol %d (expected 2 or 3)", protocol)
	}

	conf := &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Protocol:      protocol,
		DB:            viper.GetInt("db"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			SocketConf: common.SocketConf{
				WriteBufferSize: viper.GetInt("transport-write-buffer") * 1024,
				ReadBufferSize:  viper.GetInt("transport-read-buffer") * 1024,
			},
			TCPConf: common.TCPConf{
				TCPKeepAliveSec: viper.GetInt("transport-tcp-keepalive"),
				TCPLingerSec:    viper.GetInt("transport-tcp-linger"),
				TCPNoDelay:      viper.GetBool("transport-tcp-nodelay"),
			},
		},
	}

	return conf, nil
}

// GetTransport creates transport based on configuration
func GetTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// NewClient creates a client from the command line configuration
func NewClient() (*client.Client, error) {
	config, err := GetClientConfig()
	if err != nil {
		return nil, err
	}
	t, err := GetTransport()
	if err != nil {
		return nil, err
	}
	return client.NewClient(*config, t)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// PrintValue renders a reply the way redis-cli does
func PrintValue(w io.Writer, v resp.Value) {
	printValue(w, v, "")
}

func printValue(w io.Writer, v resp.Value, indent string) {
	switch {
	case v.IsNull():
		fmt.Fprintln(w, "(nil)")
	case v.Type == resp.TypeError:
		fmt.Fprintf(w, "(error) %s\n", v.Str)
	case v.Type == resp.TypeInteger:
		fmt.Fprintf(w, "(integer) %d\n", v.Int)
	case v.Type == resp.TypeDouble:
		fmt.Fprintf(w, "(double) %s\n", resp.FormatFloat(v.Float))
	case v.Type == resp.TypeBoolean:
		fmt.Fprintf(w, "(boolean) %t\n", v.Bool)
	case v.Type == resp.TypeBulkString:
		fmt.Fprintf(w, "%q\n", v.Bulk)
	case v.Type == resp.TypeSimpleString:
		fmt.Fprintln(w, v.Str)
	case len(v.Elems) == 0:
		fmt.Fprintln(w, "(empty array)")
	case v.Type == resp.TypeMap:
		for i := 0; i+1 < len(v.Elems); i += 2 {
			prefix := fmt.Sprintf("%d# ", i/2+1)
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			fmt.Fprintf(w, "%s%q => ", prefix, v.Elems[i].Text())
			printValue(w, v.Elems[i+1], indent+strings.Repeat(" ", len(prefix)))
		}
	default:
		for i, e := range v.Elems {
			prefix := fmt.Sprintf("%d) ", i+1)
			if i > 0 {
				fmt.Fprint(w, indent)
			}
			fmt.Fprint(w, prefix)
			printValue(w, e, indent+strings.Repeat(" ", len(prefix)))
		}
	}
}
