// Command replica boots one HotStuff replica or client node, in the
// flag-driven style of the teacher's fc-server/main.go.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/magiconair/properties"

	"hotstuff/client"
	"hotstuff/configs"
	"hotstuff/crypto"
	"hotstuff/engine"
	"hotstuff/storage/memdb"
	"hotstuff/transport"
)

var (
	role        string
	nodeID      uint64
	nodeCount   uint64
	listenAddr  string
	peerList    string
	configPath  string
	batchSize   int
	multiInst   int
	multiThread int
	pvp         bool
	debug       bool
)

func init() {
	flag.StringVar(&role, "role", configs.RoleReplica, "node role: server|client|replica")
	flag.Uint64Var(&nodeID, "node-id", 0, "this node's id")
	flag.Uint64Var(&nodeCount, "n", 4, "total replica count (n = 3f+1)")
	flag.StringVar(&listenAddr, "listen", "127.0.0.1:7000", "address this replica listens on")
	flag.StringVar(&peerList, "peers", "", "comma-separated node_id=addr pairs for every other replica")
	flag.StringVar(&configPath, "config", "", "optional .properties file overriding defaults")
	flag.IntVar(&batchSize, "batch", 4, "client requests per proposed batch")
	flag.IntVar(&multiInst, "instances", 1, "number of parallel-primary consensus lanes (1 = single-instance)")
	flag.IntVar(&multiThread, "threads", 1, "worker thread count")
	flag.BoolVar(&pvp, "pvp", false, "enable parallel-primary multi-leader mode")
	flag.BoolVar(&debug, "debug", false, "enable verbose debug logging")
}

func parsePeers(spec string) (map[uint64]string, error) {
	peers := make(map[uint64]string)
	if spec == "" {
		return peers, nil
	}
	for _, pair := range strings.Split(spec, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid peer spec %q", pair)
		}
		id, err := strconv.ParseUint(kv[0], 10, 64)
		if err != nil {
			return nil, err
		}
		peers[id] = kv[1]
	}
	return peers, nil
}

func loadConfig() (*configs.ConsensusConfig, error) {
	cfg := configs.DefaultConfig()
	if configPath != "" {
		props, err := properties.LoadFile(configPath, properties.UTF8)
		if err != nil {
			return nil, err
		}
		cfg.BatchSize = props.GetInt("batch_size", cfg.BatchSize)
		cfg.TxnPerCheckpoint = uint64(props.GetInt64("txn_per_checkpoint", int64(cfg.TxnPerCheckpoint)))
		cfg.MultiInstances = props.GetInt("multi_instances", cfg.MultiInstances)
		cfg.MultiThreads = props.GetInt("multi_threads", cfg.MultiThreads)
	}
	cfg.NodeID = nodeID
	cfg.NodeCount = nodeCount
	explicit := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
	if explicit["batch"] {
		cfg.BatchSize = batchSize
	}
	if explicit["instances"] {
		cfg.MultiInstances = multiInst
	}
	if explicit["threads"] {
		cfg.MultiThreads = multiThread
	}
	if pvp && cfg.MultiInstances < 2 {
		cfg.MultiInstances = int(nodeCount)
	}
	configs.ShowDebugInfo = debug
	configs.ShowWarnings = debug
	configs.ShowTestInfo = debug
	return cfg, nil
}

// localKeySet derives every node's ed25519 keypair deterministically
// from its node id. Real key distribution (KEY_EXCHANGE, §6) is out of
// scope for this engine; this stand-in lets every replica independently
// compute the same public keys for its peers without a handshake.
func localKeySet(cfg *configs.ConsensusConfig, peers map[uint64]string) *crypto.KeySet {
	all := map[uint64]bool{cfg.NodeID: true}
	for id := range peers {
		all[id] = true
	}
	pub := make(map[uint64]ed25519.PublicKey, len(all))
	var selfPriv ed25519.PrivateKey
	for id := range all {
		priv := ed25519.NewKeyFromSeed(seedFor(id))
		pub[id] = priv.Public().(ed25519.PublicKey)
		if id == cfg.NodeID {
			selfPriv = priv
		}
	}
	return &crypto.KeySet{
		Self:       cfg.NodeID,
		PrivateKey: selfPriv,
		PublicKeys: pub,
		Quorum:     int(cfg.Quorum()),
	}
}

func seedFor(nodeID uint64) []byte {
	h := sha256.Sum256([]byte(fmt.Sprintf("hotstuff-demo-key-seed-%d", nodeID)))
	return h[:]
}

func main() {
	flag.Parse()
	cfg, err := loadConfig()
	configs.CheckError(err)

	ctx, cancel := context.WithCancel(context.Background())
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		cancel()
	}()

	switch role {
	case configs.RoleReplica, configs.RoleServer:
		peers, err := parsePeers(peerList)
		configs.CheckError(err)
		tp, err := transport.NewTCPTransport(cfg.NodeID, listenAddr, peers)
		configs.CheckError(err)

		cr := crypto.NewEd25519Crypto(localKeySet(cfg, peers))
		db := memdb.New()
		eng, err := engine.New(cfg, cr, tp, db)
		configs.CheckError(err)

		fmt.Printf("replica %d listening on %s (n=%d, f=%d, instances=%d)\n",
			cfg.NodeID, listenAddr, cfg.NodeCount, cfg.Faulty(), cfg.MultiInstances)
		eng.Run(ctx)
		configs.CheckError(eng.Close())

	case configs.RoleClient:
		peers, err := parsePeers(peerList)
		configs.CheckError(err)
		tp, err := transport.NewTCPTransport(cfg.NodeID, listenAddr, peers)
		configs.CheckError(err)
		c := client.New(cfg.NodeID, cfg, tp, 10000, 32)
		go c.Run(ctx)

		leader := uint64(0)
		c.WarmupThenRun(ctx, 0, leader, cfg.BatchSize, 10*time.Millisecond, cfg.DoneTimer)
		configs.CheckError(tp.Close())

	default:
		fmt.Fprintf(os.Stderr, "invalid --role %q: want server|client|replica\n", role)
		os.Exit(1)
	}
}
