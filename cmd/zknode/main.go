// Command zknode runs the rollup sequencer: mempool admission, block
// proposal and sealing, and the JSON-RPC/pubsub surface (§6), wired
// together from a single config file.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/matter-labs/zksync-sub003/config"
	"github.com/matter-labs/zksync-sub003/feeticker"
	"github.com/matter-labs/zksync-sub003/internal/metrics"
	"github.com/matter-labs/zksync-sub003/internal/zkhash"
	"github.com/matter-labs/zksync-sub003/internal/zklog"
	"github.com/matter-labs/zksync-sub003/mempool"
	"github.com/matter-labs/zksync-sub003/notifier"
	"github.com/matter-labs/zksync-sub003/proposer"
	"github.com/matter-labs/zksync-sub003/rpc"
	"github.com/matter-labs/zksync-sub003/statekeeper"
	"github.com/matter-labs/zksync-sub003/statemachine"
	"github.com/matter-labs/zksync-sub003/token"
	"github.com/matter-labs/zksync-sub003/types"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		zklog.Default().Error("zknode exited with error", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "zknode",
		Usage:   "zk-rollup sequencer node",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "zknode.yaml", Usage: "path to the node's YAML config file"},
			&cli.IntFlag{Name: "http.port", Value: 3030, Usage: "JSON-RPC and pubsub HTTP port"},
			&cli.IntFlag{Name: "metrics.port", Value: 9090, Usage: "Prometheus metrics HTTP port"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	log := zklog.Module("zknode")
	log.Info("starting", "version", version, "commit", commit)

	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	feeAccountAddr, err := parseFeeAccountAddress(cfg.FeeAccountAddress)
	if err != nil {
		return err
	}

	reg := metrics.NewRegistry(cfg.Metrics)
	hasher := zkhash.NewDomainHasher()
	tokens := token.NewRegistry()
	state := statemachine.NewState(hasher, tokens)
	keeper := statekeeper.NewKeeper(cfg.StateKeeper, state, zklog.Module("statekeeper"))

	ticker := feeticker.New(cfg.FeeTicker)

	store := mempool.NewMemStore()
	mp := mempool.New(cfg.Mempool, store, reg, zklog.Module("mempool"), ticker)

	n := notifier.New(0)

	feeAccountID, _, _ := resolveFeeAccount(state, feeAccountAddr)

	server := rpc.NewServer(mp, keeper, tokens, ticker, n, feeAccountAddr)
	pubsub := rpc.NewPubSubHandler(n, 1024)

	httpSrv := &http.Server{
		Addr:    portAddr(c.Int("http.port")),
		Handler: rpc.NewMux(server, pubsub),
	}
	metricsSrv := &http.Server{
		Addr:    portAddr(c.Int("metrics.port")),
		Handler: metricsMux(reg),
	}

	go serveUntilClosed(log, "rpc", httpSrv)
	go serveUntilClosed(log, "metrics", metricsSrv)
	go runSealLoop(c.Context, log, keeper, server, mp, feeAccountID)

	log.Info("ready", "http.port", c.Int("http.port"), "metrics.port", c.Int("metrics.port"))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received signal, shutting down", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	_ = metricsSrv.Shutdown(ctx)
	return nil
}

func parseFeeAccountAddress(s string) (types.Address, error) {
	if s == "" {
		return types.Address{}, nil
	}
	var a types.Address
	if err := a.UnmarshalText([]byte(s)); err != nil {
		return types.Address{}, err
	}
	return a, nil
}

// resolveFeeAccount looks up (or, absent an existing account, simply
// reports the zero id for) the address collecting every block's fees.
// Creating the account itself happens through ordinary tx/priority-op
// processing, not at startup.
func resolveFeeAccount(state *statemachine.State, addr types.Address) (types.AccountID, bool, error) {
	if addr.IsZero() {
		return 0, false, nil
	}
	id, ok := state.AccountIDByAddress(addr)
	return id, ok, nil
}

func portAddr(port int) string {
	return fmt.Sprintf(":%d", port)
}

func metricsMux(reg *metrics.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle(reg.Path(), reg.Handler())
	return mux
}

func serveUntilClosed(log *zklog.Logger, name string, srv *http.Server) {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server stopped unexpectedly", "server", name, "err", err)
	}
}

// runSealLoop periodically proposes and applies a block from the current
// mempool contents, the same cadence §4.H describes as one of the sealing
// triggers (timeout), until ctx is cancelled. Each tick proposes once and
// always force-seals, so no pending block state carries across ticks.
func runSealLoop(ctx context.Context, log *zklog.Logger, keeper *statekeeper.Keeper, server *rpc.Server, mp *mempool.Mempool, feeAccountID types.AccountID) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if mp.Count() == 0 && len(mp.PriorityOpsFrom(mp.MaxProcessedSerialID()+1)) == 0 {
				continue
			}
			if err := sealOnce(keeper, server, mp, feeAccountID); err != nil {
				log.Warn("seal attempt failed", "err", err)
			}
		}
	}
}

func sealOnce(keeper *statekeeper.Keeper, server *rpc.Server, mp *mempool.Mempool, feeAccountID types.AccountID) error {
	state := keeper.State()
	timestamp := uint64(time.Now().Unix())

	proposed := proposer.Propose(proposer.DefaultConfig(), mp, state, mp.MaxProcessedSerialID()+1, timestamp, nil)
	if err := keeper.BeginBlock(timestamp, feeAccountID); err != nil {
		return err
	}

	block, err := keeper.ApplyBlock(proposed)
	if err != nil {
		return err
	}
	if block == nil {
		block = keeper.SealNow(statekeeper.SealTimeout)
	}

	for _, applied := range block.Ops {
		if !applied.TxHash.IsZero() {
			mp.Remove(applied.TxHash)
		}
		if applied.SerialID != 0 {
			mp.MarkProcessed(applied.SerialID)
		}
	}
	server.NotifyBlockSealed(block)
	return nil
}
