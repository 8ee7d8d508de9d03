// Command orbitchat runs a minimal terminal chat session against the SQL
// gateway and redis change feed. It exists to exercise the full stack end to
// end; real clients embed the core package instead.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mbeoliero/kit/log"
	"github.com/mbeoliero/orbit/config"
	"github.com/mbeoliero/orbit/core"
	"github.com/mbeoliero/orbit/gateway"
	"github.com/mbeoliero/orbit/gateway/redisfeed"
	"github.com/mbeoliero/orbit/gateway/sqlgw"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	userId := flag.String("user", "", "user id to sign in as")
	peerId := flag.String("peer", "", "peer user id to chat with")
	flag.Parse()

	if *userId == "" || *peerId == "" {
		fmt.Fprintln(os.Stderr, "usage: orbitchat -user <id> -peer <id> [-config path]")
		os.Exit(2)
	}

	ctx := context.TODO()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.CtxError(ctx, "failed to load config: %v", err)
		panic(err)
	}

	gw, rdb, err := sqlgw.Open(cfg)
	if err != nil {
		log.CtxError(ctx, "failed to open gateway: %v", err)
		panic(err)
	}
	defer rdb.Close()

	feed := redisfeed.New(rdb, cfg.Redis.KeyPrefix)
	c := core.New(cfg, gw, feed, *userId)
	defer c.Close()

	summaries, err := c.Conversations(ctx)
	if err != nil {
		log.CtxError(ctx, "failed to load conversations: %v", err)
		panic(err)
	}
	log.CtxInfo(ctx, "session started: user_id=%s, conversations=%d, unread=%d",
		*userId, len(summaries), c.TotalUnread())

	conv, err := c.StartConversation(ctx, *userId, *peerId)
	if err != nil {
		log.CtxError(ctx, "failed to start conversation: %v", err)
		panic(err)
	}
	c.OpenConversation(conv.Id)

	if _, err := c.Messages(ctx, conv.Id); err != nil {
		log.CtxError(ctx, "failed to load messages: %v", err)
		panic(err)
	}
	for _, m := range c.Store().Messages(conv.Id) {
		fmt.Printf("[%s] %s\n", m.SenderId, m.Content)
	}

	detach, err := c.SubscribeConversation(ctx, conv.Id, func(ev gateway.MessageEvent) {
		if ev.Op == gateway.OpInsert && ev.Message != nil && ev.Message.SenderId != *userId {
			fmt.Printf("[%s] %s\n", ev.Message.SenderId, ev.Message.Content)
		}
	})
	if err != nil {
		log.CtxError(ctx, "failed to subscribe: %v", err)
		panic(err)
	}
	defer detach()

	if online, err := c.PresenceOf(ctx, *peerId); err == nil {
		fmt.Printf("-- %s is online: %v\n", *peerId, online)
	}
	detachPresence := c.SubscribePresence(func(uid string, online bool) {
		if uid == *peerId {
			fmt.Printf("-- %s is online: %v\n", uid, online)
		}
	})
	defer detachPresence()

	// Read lines from stdin, send each as a message.
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := strings.TrimSpace(scanner.Text())
			if text == "" {
				continue
			}
			_, result, err := c.SendMessage(ctx, conv.Id, text)
			if err != nil {
				fmt.Printf("-- send rejected: %v\n", err)
				continue
			}
			go func() {
				if err := <-result; err != nil {
					fmt.Printf("-- send failed: %v\n", err)
				}
			}()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.CtxInfo(ctx, "session ended: user_id=%s", *userId)
}
