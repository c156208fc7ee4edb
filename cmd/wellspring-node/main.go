// Copyright 2025 Wellspring Authors
//
// wellspring-node - the long-running node daemon. Loads configuration,
// opens the Local Store and advisory caches, serves the RPC surface, and
// runs a periodic outbound sync loop against any configured bootstrap
// peers. Mirrors the teacher's main.go shutdown pattern: a cancellable
// background context, signal-triggered graceful HTTP shutdown.

package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wellspring-network/wellspring/internal/nodectx"
	"github.com/wellspring-network/wellspring/pkg/config"
	"github.com/wellspring-network/wellspring/pkg/rpcserver"
	wssync "github.com/wellspring-network/wellspring/pkg/sync"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	nc, err := nodectx.New(ctx, cfg)
	if err != nil {
		log.Fatalf("build node context: %v", err)
	}
	defer nc.Close()

	if err := rehydrate(ctx, nc); err != nil {
		log.Fatalf("rehydrate state from store: %v", err)
	}

	srv := rpcserver.NewServer(rpcserver.Deps{
		Store:            nc.Store,
		Engine:           nc.Pools,
		Sessions:         nc.Sessions,
		Index:            nc.Index,
		Trust:            nc.Trust,
		Signer:           nc.Signer,
		Algo:             nc.Algo,
		LocalIdentityCID: nc.LocalIdentityCID,
		Capabilities:     []string{"sync", "bloom", "query"},
		PoolOf:           nc.Pools.Pool,
		Logger:           log.New(log.Writer(), "[RPC] ", log.LstdFlags),
	})

	httpServer := &http.Server{
		Addr:    nc.Config.ListenAddr,
		Handler: srv,
	}

	go func() {
		log.Printf("wellspring-node listening on %s", nc.Config.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	go runSyncLoop(ctx, nc)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Printf("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
	log.Printf("stopped")
}

// rehydrate queues every CID the store already holds on the checkpointer
// as pending for its next Fold. It does not rebuild the Trust Graph, Pool
// Engine membership or Semantic Index, which stay empty, and it does not
// reload earlier checkpoint records, so Latest is nil at this point. A
// fresh store makes this a no-op.
func rehydrate(ctx context.Context, nc *nodectx.Context) error {
	cids, err := nc.Store.AllCIDs(ctx)
	if err != nil {
		return fmt.Errorf("list stored thoughts: %w", err)
	}
	for _, cidStr := range cids {
		nc.Checkpointer.Observe(cidStr)
	}
	if latest := nc.Checkpointer.Latest(); latest != nil {
		nc.Logger.Printf("resuming from checkpoint seq=%d size=%d root=%s", latest.SeqNo, latest.Size, latest.Root)
	}
	return nil
}

// runSyncLoop periodically dials every configured bootstrap peer and
// runs one round of Hello -> ExchangeBloom -> Push.
func runSyncLoop(ctx context.Context, nc *nodectx.Context) {
	ticker := time.NewTicker(nc.Config.SyncInterval)
	defer ticker.Stop()
	client := &http.Client{Timeout: nc.Config.SyncTimeout}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range nc.Config.BootstrapPeers {
				if err := syncWithPeer(ctx, client, nc, peer); err != nil {
					nc.Logger.Printf("sync with %s failed: %v", peer, err)
				}
			}
		}
	}
}

// syncWithPeer runs one outbound round: Hello to learn the peer's
// identity, ExchangeBloom to learn what it already has, then SelectForPeer
// decides what we hold that it (probably) lacks, pushed via Push.
func syncWithPeer(ctx context.Context, client *http.Client, nc *nodectx.Context, peerAddr string) error {
	var hello wssync.HelloResponse
	if err := postJSON(ctx, client, peerAddr+"/rpc/hello", wssync.HelloRequest{
		IdentityCID:     nc.LocalIdentityCID,
		ProtocolVersion: wssync.ProtocolVersion,
		Capabilities:    []string{"sync", "bloom", "query"},
		Timestamp:       time.Now().UnixMilli(),
	}, &hello); err != nil {
		return fmt.Errorf("hello: %w", err)
	}

	cids, err := nc.Store.AllCIDs(ctx)
	if err != nil {
		return fmt.Errorf("list local cids: %w", err)
	}
	filter := wssync.BuildFilter(cids, 0, 0)
	filterBytes, err := filter.Bytes()
	if err != nil {
		return fmt.Errorf("serialize bloom filter: %w", err)
	}

	var remote struct {
		FilterBytes  []byte `json:"filter_bytes"`
		FilterM      uint   `json:"filter_m"`
		FilterK      uint   `json:"filter_k"`
		ThoughtCount int    `json:"thought_count"`
	}
	if err := postJSON(ctx, client, peerAddr+"/rpc/bloom", map[string]interface{}{
		"filter_bytes":  filterBytes,
		"filter_m":      filter.M,
		"filter_k":      filter.K,
		"thought_count": len(cids),
	}, &remote); err != nil {
		return fmt.Errorf("exchange bloom: %w", err)
	}

	remoteFilter, err := wssync.FilterFromBytes(remote.FilterBytes, remote.FilterM, remote.FilterK)
	if err != nil {
		return fmt.Errorf("decode peer bloom filter: %w", err)
	}

	selection, err := wssync.SelectForPeer(ctx, nc.Store, nc.Pools, hello.IdentityCID, "", remoteFilter)
	if err != nil {
		return fmt.Errorf("select thoughts for peer: %w", err)
	}
	if len(selection.Thoughts) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, t := range selection.Thoughts {
		payload, err := rpcserver.ToPayload(t)
		if err != nil {
			return fmt.Errorf("encode thought %s: %w", t.CID, err)
		}
		if err := enc.Encode(payload); err != nil {
			return fmt.Errorf("encode push line: %w", err)
		}
	}

	pushURL := peerAddr + "/rpc/push"
	if hello.SessionID != "" {
		pushURL += "?session_id=" + url.QueryEscape(hello.SessionID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, pushURL, &body)
	if err != nil {
		return fmt.Errorf("build push request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("push request: %w", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	var accepted, rejected int
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var ack wssync.Ack
		if err := json.Unmarshal(line, &ack); err != nil {
			continue
		}
		if ack.Status == wssync.Accepted {
			accepted++
		} else {
			rejected++
		}
	}
	nc.Logger.Printf("pushed %d thoughts to %s (%d accepted, %d rejected)", len(selection.Thoughts), peerAddr, accepted, rejected)
	return nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(mustJSON(body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("peer returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func mustJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
