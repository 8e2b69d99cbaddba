//go:build integration

// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package amqp

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/absmach/virgil/config"
	"github.com/absmach/virgil/connection"
	"github.com/absmach/virgil/message"
	"github.com/absmach/virgil/operator"
	amqp091 "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rabbit is the broker shared by the suite: VIRGIL_AMQP_TEST_URL when set,
// otherwise a throwaway docker container.
var rabbit struct {
	url       string
	container string
	err       error
}

func TestMain(m *testing.M) {
	flag.Parse()
	if !testing.Short() {
		rabbit.url, rabbit.container, rabbit.err = startRabbit()
	}

	code := m.Run()

	if rabbit.container != "" {
		_, _ = docker(20*time.Second, "rm", "-f", rabbit.container)
	}
	os.Exit(code)
}

func TestRabbitMQPeekReturnsOnCloseIntegration(t *testing.T) {
	b := binderOrSkip(t)
	queue := declareQueue(t, b, "it-peek")
	publishBodies(t, b, "", queue, "one", "two", "three")

	ctx := context.Background()
	conn, err := NewDialer(nil).Dial(ctx, "it", b)
	require.NoError(t, err)

	admin, err := conn.Admin()
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	depth, err := admin.QueueDepth(queue)
	require.NoError(t, err)
	assert.Equal(t, 3, depth)

	first, ok, err := ch.Get(queue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "one", string(first.Body))

	depth, err = admin.QueueDepth(queue)
	require.NoError(t, err)
	assert.Equal(t, 2, depth, "fetched message is unacked, not ready")

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		return queueDepth(t, b, queue) == 3
	}, 5*time.Second, 100*time.Millisecond)
}

func TestRabbitMQAckAndPurgeIntegration(t *testing.T) {
	b := binderOrSkip(t)
	queue := declareQueue(t, b, "it-ack")
	publishBodies(t, b, "", queue, "keep", "drop")

	ctx := context.Background()
	conn, err := NewDialer(nil).Dial(ctx, "it", b)
	require.NoError(t, err)
	ch, err := conn.Channel()
	require.NoError(t, err)

	_, ok, err := ch.Get(queue)
	require.NoError(t, err)
	require.True(t, ok)
	second, ok, err := ch.Get(queue)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, ch.Ack(second.DeliveryTag))
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return queueDepth(t, b, queue) == 1
	}, 5*time.Second, 100*time.Millisecond)

	conn, err = NewDialer(nil).Dial(ctx, "it", b)
	require.NoError(t, err)
	defer conn.Close()
	ch, err = conn.Channel()
	require.NoError(t, err)
	purged, err := ch.Purge(queue)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)
}

func TestRabbitMQMissingQueueIntegration(t *testing.T) {
	b := binderOrSkip(t)

	conn, err := NewDialer(nil).Dial(context.Background(), "it", b)
	require.NoError(t, err)
	defer conn.Close()

	admin, err := conn.Admin()
	require.NoError(t, err)
	_, err = admin.QueueDepth(uniqueName("it-missing"))
	assert.Error(t, err)

	// The message channel survives a failed admin query.
	ch, err := conn.Channel()
	require.NoError(t, err)
	_, ok, err := ch.Get(declareQueue(t, b, "it-survive"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRabbitMQPublishConfirmAndReturnIntegration(t *testing.T) {
	b := binderOrSkip(t)
	queue := declareQueue(t, b, "it-confirm")

	conn, err := NewDialer(nil).Dial(context.Background(), "it", b)
	require.NoError(t, err)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)

	msg := message.Raw{
		Body:       []byte("confirmed"),
		Properties: message.Properties{MessageID: "m-1", ContentType: "text/plain"},
		Headers:    map[string]any{"x-original-exchange": "orders"},
	}
	require.NoError(t, ch.Publish(context.Background(), "", queue, msg))

	got, ok, err := ch.Get(queue)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "m-1", got.Properties.MessageID)
	assert.Equal(t, "orders", got.Headers["x-original-exchange"])

	err = ch.Publish(context.Background(), "", uniqueName("it-nowhere"), msg)
	assert.ErrorIs(t, err, ErrReturned)
}

func TestRabbitMQOperatorIntegration(t *testing.T) {
	b := binderOrSkip(t)
	dlq := declareQueue(t, b, "it-dlq")
	work := declareQueue(t, b, "it-work")
	publishBodies(t, b, "", dlq, "alpha", "beta", "gamma")

	cfg := config.Default()
	cfg.Binders["it"] = b
	cfg.Queues["orders"] = config.QueueConfig{
		ReadName:            dlq,
		ReadBinderName:      "it",
		RepublishName:       "",
		RepublishRoutingKey: work,
	}
	require.NoError(t, cfg.Validate())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := connection.NewRegistry(cfg, NewDialer(logger), connection.WithLogger(logger))
	op := operator.New(cfg, registry, operator.WithLogger(logger))
	ctx := context.Background()

	listing, err := op.Messages(ctx, "orders", 2)
	require.NoError(t, err)
	require.Len(t, listing.Messages, 2)
	assert.Equal(t, "alpha", listing.Messages[0].Body)

	assert.Eventually(t, func() bool {
		n, err := op.QueueSize(ctx, "orders")
		return err == nil && n == 3
	}, 5*time.Second, 100*time.Millisecond)

	ok, err := op.Republish(ctx, "orders", listing.Messages[1].Fingerprint, listing.Cache)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Eventually(t, func() bool { return queueDepth(t, b, work) == 1 }, 5*time.Second, 100*time.Millisecond)

	ok, err = op.Ack(ctx, "orders", message.Fingerprint([]byte("beta")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Eventually(t, func() bool {
		n, err := op.QueueSize(ctx, "orders")
		return err == nil && n == 2
	}, 5*time.Second, 100*time.Millisecond)

	ok, err = op.DropAll(ctx, "orders")
	require.NoError(t, err)
	require.True(t, ok)
	n, err := op.QueueSize(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func binderOrSkip(t *testing.T) config.BinderConfig {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping RabbitMQ integration test in short mode")
	}
	if rabbit.err != nil {
		t.Skipf("RabbitMQ unavailable: %v", rabbit.err)
	}

	u, err := url.Parse(rabbit.url)
	require.NoError(t, err)
	pass, _ := u.User.Password()
	return config.BinderConfig{
		Type:        config.BinderTypeRabbit,
		Addresses:   []string{u.Host},
		Username:    u.User.Username(),
		Password:    pass,
		Vhost:       "/",
		DialTimeout: 5 * time.Second,
		Heartbeat:   5 * time.Second,
	}
}

func rawConn(t *testing.T, b config.BinderConfig) *amqp091.Connection {
	t.Helper()
	conn, err := dial(context.Background(), OptionsFromBinder(b), b.Addresses[0])
	require.NoError(t, err)
	return conn
}

func declareQueue(t *testing.T, b config.BinderConfig, prefix string) string {
	t.Helper()
	conn := rawConn(t, b)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	name := uniqueName(prefix)
	_, err = ch.QueueDeclare(name, false, true, false, false, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		c := rawConn(t, b)
		defer c.Close()
		if ch, err := c.Channel(); err == nil {
			_, _ = ch.QueueDelete(name, false, false, false)
		}
	})
	return name
}

func publishBodies(t *testing.T, b config.BinderConfig, exchange, key string, bodies ...string) {
	t.Helper()
	conn := rawConn(t, b)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	for _, body := range bodies {
		require.NoError(t, ch.PublishWithContext(context.Background(), exchange, key, false, false, amqp091.Publishing{Body: []byte(body)}))
	}
}

func queueDepth(t *testing.T, b config.BinderConfig, queue string) int {
	t.Helper()
	conn := rawConn(t, b)
	defer conn.Close()
	ch, err := conn.Channel()
	require.NoError(t, err)
	defer ch.Close()

	q, err := ch.QueueDeclarePassive(queue, false, true, false, false, nil)
	require.NoError(t, err)
	return q.Messages
}

func startRabbit() (string, string, error) {
	if u := strings.TrimSpace(os.Getenv("VIRGIL_AMQP_TEST_URL")); u != "" {
		return u, "", awaitRabbit(u, 30*time.Second)
	}

	image := os.Getenv("VIRGIL_AMQP_TEST_IMAGE")
	if image == "" {
		image = "rabbitmq:3.13-alpine"
	}
	id, err := docker(2*time.Minute, "run", "-d", "--rm", "-P",
		"-e", "RABBITMQ_DEFAULT_USER=guest",
		"-e", "RABBITMQ_DEFAULT_PASS=guest",
		image)
	if err != nil {
		return "", "", err
	}

	u, err := rabbitURL(id)
	if err == nil {
		err = awaitRabbit(u, time.Minute)
	}
	if err != nil {
		_, _ = docker(20*time.Second, "rm", "-f", id)
		return "", "", err
	}
	return u, id, nil
}

// rabbitURL resolves the host port docker published for the container's AMQP
// listener. VIRGIL_AMQP_TEST_HOST overrides the host for remote daemons.
func rabbitURL(container string) (string, error) {
	mapping, err := docker(10*time.Second, "port", container, "5672/tcp")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(mapping, "\n")
	_, port, err := net.SplitHostPort(strings.TrimSpace(first))
	if err != nil {
		return "", fmt.Errorf("unexpected port mapping %q: %w", mapping, err)
	}
	host := os.Getenv("VIRGIL_AMQP_TEST_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("amqp://guest:guest@%s/", net.JoinHostPort(host, port)), nil
}

func awaitRabbit(rawURL string, timeout time.Duration) error {
	var err error
	for deadline := time.Now().Add(timeout); time.Now().Before(deadline); time.Sleep(500 * time.Millisecond) {
		var conn *amqp091.Connection
		if conn, err = amqp091.DialConfig(rawURL, amqp091.Config{Dial: amqp091.DefaultDial(2 * time.Second)}); err == nil {
			return conn.Close()
		}
	}
	return fmt.Errorf("rabbitmq not ready at %s: %w", rawURL, err)
}

func docker(timeout time.Duration, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, bytes.TrimSpace(out))
	}
	return strings.TrimSpace(string(out)), nil
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
