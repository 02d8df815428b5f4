package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/subcommands"

	"sapo/internal/amqp"
	"sapo/internal/config"
	"sapo/internal/gateway"
)

const gatewayTimeout = 30 * time.Second

type gatewayMessageCmd struct {
	*app
	msgType string
	tag     string
	via     string
	url     string

	// client is replaced in tests.
	client *http.Client
}

func (*gatewayMessageCmd) Name() string { return "gateway-message" }
func (*gatewayMessageCmd) Synopsis() string {
	return "send a control message to a running gateway"
}
func (*gatewayMessageCmd) Usage() string {
	return `sapoctl gateway-message -type SKIP_WAITING|CACHE_URLS|GET_VERSION|SYNC [-tag <tag>] [-via http|amqp] [-url <gateway>] [urls...]

  CACHE_URLS takes the URLs to cache as arguments. Over AMQP the broker
  settings come from the environment; messages with a reply wait for it.
`
}

func (c *gatewayMessageCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.msgType, "type", string(gateway.MsgGetVersion), "message type")
	f.StringVar(&c.tag, "tag", gateway.SyncTagTransactions, "sync tag, for SYNC")
	f.StringVar(&c.via, "via", "http", "http or amqp")
	f.StringVar(&c.url, "url", "http://localhost:8082", "gateway address, for -via http")
}

func (c *gatewayMessageCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	msg := gateway.Message{Type: gateway.MessageType(strings.ToUpper(c.msgType)), Payload: f.Args()}
	if msg.Type == gateway.MsgSync {
		msg.Tag = c.tag
	}
	if msg.Type == gateway.MsgCacheURLs && len(msg.Payload) == 0 {
		return usage("CACHE_URLS needs at least one URL")
	}

	ctx, cancel := context.WithTimeout(ctx, gatewayTimeout)
	defer cancel()

	var (
		reply []byte
		err   error
	)
	switch c.via {
	case "http":
		reply, err = c.sendHTTP(ctx, msg)
	case "amqp":
		reply, err = c.sendAMQP(ctx, msg)
	default:
		return usage(fmt.Sprintf("unknown transport %q", c.via))
	}
	if err != nil {
		return fail(err)
	}
	if len(reply) > 0 {
		fmt.Fprintln(c.out, strings.TrimSpace(string(reply)))
	} else {
		fmt.Fprintln(c.out, "accepted")
	}
	return subcommands.ExitSuccess
}

func (c *gatewayMessageCmd) sendHTTP(ctx context.Context, msg gateway.Message) ([]byte, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimSuffix(c.url, "/")+gateway.ControlPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.client
	if client == nil {
		client = &http.Client{Timeout: gatewayTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return data, nil
	case http.StatusAccepted:
		return nil, nil
	default:
		return nil, fmt.Errorf("gateway answered %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
}

func (c *gatewayMessageCmd) sendAMQP(ctx context.Context, msg gateway.Message) ([]byte, error) {
	cfg := config.Load()
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AMQP_URL is not set")
	}
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, stderrLogger(cfg))
	if err != nil {
		return nil, err
	}
	defer client.Close()

	cm := amqp.NewControlMessage(string(msg.Type), msg.Payload, msg.Tag)
	switch msg.Type {
	case gateway.MsgCacheURLs, gateway.MsgGetVersion:
		return client.Request(ctx, cm)
	default:
		return nil, client.Publish(ctx, cm)
	}
}
