package command

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ValentinKolb/rKV/lib/cluster"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "cluster", Min: 2, Max: -1, Flags: FlagNoLock | FlagNoScript, Handler: clusterCmd},
	)
}

func clusterCmd(c *Ctx) (resp.Value, error) {
	r := c.Engine.router
	switch sub := lower(c.Args[1]); {
	case sub == "keyslot" && c.NArgs() == 2:
		return resp.Integer(int64(cluster.Slot(c.Arg(2)))), nil
	case sub == "info" && c.NArgs() == 1:
		return resp.BulkString(clusterInfo(r)), nil
	case sub == "slots" && c.NArgs() == 1:
		if !r.Enabled() {
			return resp.Value{}, Errf("This instance has cluster support disabled")
		}
		var out []resp.Value
		for _, rg := range r.Slots().Ranges() {
			host, port := splitAddr(rg.Addr)
			out = append(out, resp.Array(
				resp.Integer(int64(rg.From)),
				resp.Integer(int64(rg.To)),
				resp.Array(resp.BulkString(host), resp.Integer(port)),
			))
		}
		return resp.Array(out...), nil
	default:
		return resp.Value{}, Errf("unknown subcommand '%s'. Try CLUSTER HELP.", c.Arg(1))
	}
}

func clusterInfo(r *cluster.Router) string {
	if !r.Enabled() {
		return "cluster_enabled:0\r\n"
	}
	assigned := r.Slots().Assigned()
	state := "ok"
	if assigned < cluster.NumSlots {
		state = "fail"
	}
	nodes := map[string]bool{}
	for _, rg := range r.Slots().Ranges() {
		nodes[rg.Addr] = true
	}
	return fmt.Sprintf("cluster_enabled:1\r\ncluster_state:%s\r\ncluster_slots_assigned:%d\r\ncluster_known_nodes:%d\r\ncluster_size:%d\r\n",
		state, assigned, len(nodes), len(nodes))
}

func splitAddr(addr string) (string, int64) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	p, _ := strconv.ParseInt(port, 10, 64)
	return host, p
}
