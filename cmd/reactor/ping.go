package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/legamerdc/reactor/client"
	"github.com/legamerdc/reactor/internal/echo"
	"github.com/legamerdc/reactor/protocol"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// replies 把读 goroutine 收到的帧转交给命令 goroutine
type replies struct {
	ch     chan protocol.Message
	closed chan error
}

func (r *replies) OnOpen(*client.Client) {}

func (r *replies) OnMessage(_ *client.Client, m protocol.Message) {
	// Payload 仅在回调内有效
	r.ch <- protocol.Message{API: m.API, Payload: append([]byte(nil), m.Payload...)}
}

func (r *replies) OnClose(_ *client.Client, err error) { r.closed <- err }

func (r *replies) wait(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m := <-r.ch:
		return m, nil
	case err := <-r.closed:
		if err == nil {
			err = io.EOF
		}
		return protocol.Message{}, fmt.Errorf("connection closed: %w", err)
	case <-t.C:
		return protocol.Message{}, errors.New("reply timed out")
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func newPingCmd() *cobra.Command {
	var (
		addr     string
		count    int
		size     int
		compress bool
		delayed  bool
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Send echo round trips and print server stats",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			r := &replies{ch: make(chan protocol.Message, 1), closed: make(chan error, 1)}
			c, err := client.Dial(ctx, addr, r,
				client.WithCompress(compress),
				client.WithLogger(log.New(cmd.ErrOrStderr())),
			)
			if err != nil {
				return err
			}
			defer c.Close()

			api := echo.APIEcho
			if delayed {
				api = echo.APIDelayed
			}
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = byte('a' + i%26)
			}
			var total time.Duration
			for i := range count {
				start := time.Now()
				if err := c.Write(api, payload); err != nil {
					return err
				}
				m, err := r.wait(ctx, timeout)
				if err != nil {
					return err
				}
				rtt := time.Since(start)
				total += rtt
				fmt.Fprintf(out, "seq=%d api=%d bytes=%d rtt=%s\n", i, m.API, len(m.Payload), rtt)
			}
			if count > 0 {
				fmt.Fprintf(out, "avg rtt=%s\n", total/time.Duration(count))
			}

			if err := c.Write(echo.APIStats, nil); err != nil {
				return err
			}
			m, err := r.wait(ctx, timeout)
			if err != nil {
				return err
			}
			var snap echo.Snapshot
			if err := json.Unmarshal(m.Payload, &snap); err != nil {
				return fmt.Errorf("decode stats: %w", err)
			}
			fmt.Fprintf(out, "conn=%s accepted=%d active=%d messages=%d wakeups=%d\n",
				snap.Conn, snap.Accepted, snap.Active, snap.Messages, snap.Wakeups)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:18888", "server address")
	cmd.Flags().IntVar(&count, "count", 3, "echo round trips")
	cmd.Flags().IntVar(&size, "size", 32, "payload size in bytes")
	cmd.Flags().BoolVar(&compress, "compress", false, "compress requests with zstd")
	cmd.Flags().BoolVar(&delayed, "delayed", false, "use the delayed-echo api")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "per reply timeout")
	return cmd
}
