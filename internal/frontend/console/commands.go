package console

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dep2p/go-kadnode/config"
	"github.com/dep2p/go-kadnode/internal/discovery/dht"
	"github.com/dep2p/go-kadnode/pkg/types"
)

// Node 控制台使用的节点能力
//
// *dht.DHT 实现该接口。
type Node interface {
	LocalAddr() netip.AddrPort
	Status(ctx context.Context) (dht.Status, error)
	Resolve(ctx context.Context, id types.NodeID) ([]netip.AddrPort, error)
	Announce(ctx context.Context, id types.NodeID, port uint16, lifetime time.Duration) error
	Ping(ctx context.Context, addr netip.AddrPort) (types.NodeID, time.Duration, error)
	Contacts(ctx context.Context) ([]dht.Contact, error)
}

// StatusLine 附加到 status 输出的一行，返回空字符串时省略
type StatusLine struct {
	Label string
	Value func() string
}

// Commands 命令解释器
type Commands struct {
	node  Node
	tld   string
	extra []StatusLine
}

// NewCommands 创建命令解释器
func NewCommands(node Node, tld string, extra ...StatusLine) *Commands {
	return &Commands{node: node, tld: tld, extra: extra}
}

const usage = `Usage:
  status                             Print the node's status.
  lookup <name>                      Resolve a name or 40 character identifier.
  announce <name>[:<port>] [<min>]   Announce a name for <min> minutes (default: until shutdown).
  ping <addr>:<port>                 Ping a node.
  peers                              List contacts of the routing table.
  help                               Print this help.
  quit                               Close the connection.`

// Execute 执行一行命令，返回输出文本
func (c *Commands) Execute(ctx context.Context, line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]

	switch cmd {
	case "status":
		return c.status(ctx)
	case "lookup":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: lookup <name>", ErrUsage)
		}
		return c.lookup(ctx, args[0])
	case "announce":
		if len(args) < 1 || len(args) > 2 {
			return "", fmt.Errorf("%w: announce <name>[:<port>] [<minutes>]", ErrUsage)
		}
		return c.announce(ctx, args)
	case "ping":
		if len(args) != 1 {
			return "", fmt.Errorf("%w: ping <addr>:<port>", ErrUsage)
		}
		return c.ping(ctx, args[0])
	case "peers":
		return c.peers(ctx)
	case "help", "h", "?":
		return usage, nil
	default:
		return "", fmt.Errorf("%w: %q (try help)", ErrUnknownCommand, cmd)
	}
}

func (c *Commands) status(ctx context.Context) (string, error) {
	st, err := c.node.Status(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Node id: %s\n", st.NodeID)
	fmt.Fprintf(&b, "Listen address: %s\n", st.LocalAddr)
	fmt.Fprintf(&b, "Uptime: %s\n", st.Uptime.Truncate(time.Second))
	fmt.Fprintf(&b, "Contacts: %d (%d buckets)\n", st.Contacts, st.Buckets)
	fmt.Fprintf(&b, "Cached keys: %d\n", st.CachedKeys)
	fmt.Fprintf(&b, "Announcements: %d\n", st.LocalRecords)
	fmt.Fprintf(&b, "Pending requests: %d\n", st.PendingRequests)
	fmt.Fprintf(&b, "Active lookups: %d", st.ActiveLookups)
	for _, l := range c.extra {
		if v := l.Value(); v != "" {
			fmt.Fprintf(&b, "\n%s: %s", l.Label, v)
		}
	}
	return b.String(), nil
}

func (c *Commands) lookup(ctx context.Context, name string) (string, error) {
	id, err := types.NodeIDFromName(name, c.tld)
	if err != nil {
		return "", fmt.Errorf("%w: invalid name %q", ErrUsage, name)
	}

	addrs, err := c.node.Resolve(ctx, id)
	if errors.Is(err, dht.ErrNotFound) {
		return "Not found.", nil
	}
	if err != nil {
		return "", err
	}

	lines := make([]string, 0, len(addrs))
	for _, a := range addrs {
		lines = append(lines, a.String())
	}
	return strings.Join(lines, "\n"), nil
}

func (c *Commands) announce(ctx context.Context, args []string) (string, error) {
	entry, err := config.ParseAnnounce(args[0])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUsage, err)
	}
	id, err := types.NodeIDFromName(entry.Name, c.tld)
	if err != nil {
		return "", fmt.Errorf("%w: invalid name %q", ErrUsage, entry.Name)
	}

	var lifetime time.Duration
	if len(args) == 2 {
		minutes, err := strconv.Atoi(args[1])
		if err != nil || minutes <= 0 {
			return "", fmt.Errorf("%w: invalid minutes %q", ErrUsage, args[1])
		}
		lifetime = time.Duration(minutes) * time.Minute
	}

	port := entry.Port
	if port == 0 {
		port = c.node.LocalAddr().Port()
	}

	err = c.node.Announce(ctx, id, port, lifetime)
	switch {
	case errors.Is(err, dht.ErrNoNearbyPeers):
		// 记录已保存，维护任务会在有联系人后重新发布
		return fmt.Sprintf("Announced %s (%s) on port %d locally; no peers reached yet.", entry.Name, id, port), nil
	case err != nil:
		return "", err
	}

	until := "until shutdown"
	if lifetime > 0 {
		until = fmt.Sprintf("for %d minutes", int(lifetime/time.Minute))
	}
	return fmt.Sprintf("Announced %s (%s) on port %d %s.", entry.Name, id, port, until), nil
}

func (c *Commands) ping(ctx context.Context, arg string) (string, error) {
	addr, err := netip.ParseAddrPort(arg)
	if err != nil {
		return "", fmt.Errorf("%w: invalid address %q", ErrUsage, arg)
	}
	id, rtt, err := c.node.Ping(ctx, addr)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Pong from %s (%s) in %s.", addr, id, rtt.Round(time.Microsecond)), nil
}

func (c *Commands) peers(ctx context.Context) (string, error) {
	contacts, err := c.node.Contacts(ctx)
	if err != nil {
		return "", err
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].LastSeen.After(contacts[j].LastSeen)
	})

	var b strings.Builder
	for _, ct := range contacts {
		fmt.Fprintf(&b, "%s %s rtt=%s\n", ct.ID, ct.Addr, ct.RTT.Round(time.Microsecond))
	}
	fmt.Fprintf(&b, "%d contacts", len(contacts))
	return b.String(), nil
}
