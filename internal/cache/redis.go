package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RedisConfig captures the connection parameters of the Redis backend.
type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      bool
	Timeout  time.Duration
	// KeyPrefix namespaces every key so Clear only touches this cache.
	KeyPrefix string
}

const (
	defaultRedisTimeout = 5 * time.Second
	defaultRedisPrefix  = "simplecache:"
	redisScanCount      = "256"
)

// RedisStore implements Store over a single RESP connection guarded by a
// mutex. It speaks AUTH, SELECT, PING, GET, MGET, SET, DEL, EXISTS, INCRBY
// and SCAN.
type RedisStore struct {
	cfg    RedisConfig
	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

var (
	_ Store       = (*RedisStore)(nil)
	_ MultiGetter = (*RedisStore)(nil)
	_ Pinger      = (*RedisStore)(nil)
)

// NewRedisStore dials eagerly so misconfiguration surfaces at startup.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	cfg.Address = strings.TrimSpace(cfg.Address)
	if cfg.Address == "" {
		return nil, errors.New("redis: address is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRedisTimeout
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = defaultRedisPrefix
	}

	store := &RedisStore{cfg: cfg}
	store.mu.Lock()
	err := store.ensureConnectionLocked(ctx)
	store.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return store, nil
}

// Close closes the connection. Further calls fail with ErrClosed.
func (c *RedisStore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		c.reader = nil
		return err
	}
	return nil
}

func (c *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := c.do(ctx, "GET", c.prefixed(key))
	if err != nil {
		return nil, false, err
	}

	switch v := resp.(type) {
	case nil:
		return nil, false, nil
	case []byte:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("redis: unexpected response type %T", v)
	}
}

func (c *RedisStore) GetMany(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := make([]string, 0, len(keys)+1)
	args = append(args, "MGET")
	for _, key := range keys {
		args = append(args, c.prefixed(key))
	}
	resp, err := c.do(ctx, args...)
	if err != nil {
		return nil, err
	}

	items, ok := resp.([]interface{})
	if !ok || len(items) != len(keys) {
		return nil, fmt.Errorf("redis: unexpected MGET response %T", resp)
	}
	for i, item := range items {
		if value, ok := item.([]byte); ok {
			out[keys[i]] = value
		}
	}
	return out, nil
}

// Set stores a value. Sub-millisecond ttls round up to one millisecond so a
// positive ttl never turns into "no expiry".
func (c *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := []string{"SET", c.prefixed(key), string(value)}
	if ttl > 0 {
		args = append(args, "PX", formatMillis(ttl))
	}
	_, err := c.doSimple(ctx, args...)
	return err
}

// Delete removes one or more keys, ignoring missing keys.
func (c *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]string, 0, len(keys)+1)
	args = append(args, "DEL")
	for _, key := range keys {
		args = append(args, c.prefixed(key))
	}
	_, err := c.do(ctx, args...)
	return err
}

// Clear deletes every key under the configured prefix using SCAN.
func (c *RedisStore) Clear(ctx context.Context) error {
	pattern := escapeGlob(c.cfg.KeyPrefix) + "*"
	cursor := "0"
	for {
		resp, err := c.do(ctx, "SCAN", cursor, "MATCH", pattern, "COUNT", redisScanCount)
		if err != nil {
			return err
		}
		reply, ok := resp.([]interface{})
		if !ok || len(reply) != 2 {
			return fmt.Errorf("redis: unexpected SCAN response %T", resp)
		}
		next, _ := reply[0].([]byte)
		batch, _ := reply[1].([]interface{})

		if len(batch) > 0 {
			args := make([]string, 0, len(batch)+1)
			args = append(args, "DEL")
			for _, item := range batch {
				if key, ok := item.([]byte); ok {
					args = append(args, string(key))
				}
			}
			if _, err := c.do(ctx, args...); err != nil {
				return err
			}
		}

		cursor = string(next)
		if cursor == "0" || cursor == "" {
			return nil
		}
	}
}

func (c *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.doInt(ctx, "EXISTS", c.prefixed(key))
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// IncrementBy maps to INCRBY, which keeps the key's expiry.
func (c *RedisStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := c.doInt(ctx, "INCRBY", c.prefixed(key), strconv.FormatInt(delta, 10))
	if err != nil {
		return 0, mapRedisError(err)
	}
	return n, nil
}

func (c *RedisStore) Ping(ctx context.Context) error {
	resp, err := c.doSimple(ctx, "PING")
	if err != nil {
		return err
	}
	if !strings.EqualFold(resp, "PONG") {
		return fmt.Errorf("redis: unexpected PING reply %q", resp)
	}
	return nil
}

func (c *RedisStore) prefixed(key string) string {
	return c.cfg.KeyPrefix + key
}

// redisError is an error reply from the server, as opposed to a transport
// failure.
type redisError string

func (e redisError) Error() string { return string(e) }

func mapRedisError(err error) error {
	var reply redisError
	if !errors.As(err, &reply) {
		return err
	}
	msg := strings.ToLower(string(reply))
	switch {
	case strings.Contains(msg, "overflow"):
		return fmt.Errorf("%w: %s", ErrCounterOverflow, reply)
	case strings.Contains(msg, "not an integer"):
		return fmt.Errorf("%w: %s", ErrNotInteger, reply)
	case strings.Contains(msg, "wrongtype"):
		return fmt.Errorf("%w: %s", ErrNotInteger, reply)
	default:
		return err
	}
}

func (c *RedisStore) doSimple(ctx context.Context, args ...string) (string, error) {
	resp, err := c.do(ctx, args...)
	if err != nil {
		return "", err
	}
	v, ok := resp.(string)
	if !ok {
		return "", fmt.Errorf("redis: unexpected simple response %T", resp)
	}
	return v, nil
}

func (c *RedisStore) doInt(ctx context.Context, args ...string) (int64, error) {
	resp, err := c.do(ctx, args...)
	if err != nil {
		return 0, err
	}
	switch v := resp.(type) {
	case int64:
		return v, nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("redis: unexpected integer response %T", v)
	}
}

func (c *RedisStore) do(ctx context.Context, args ...string) (interface{}, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if err := c.ensureConnectionLocked(ctx); err != nil {
		return nil, err
	}

	if err := c.conn.SetDeadline(deadlineFromContext(ctx, c.cfg.Timeout)); err != nil {
		c.resetLocked()
		return nil, err
	}

	if err := writeCommand(c.conn, args); err != nil {
		c.resetLocked()
		return nil, err
	}

	resp, err := readResponse(c.reader)
	if err != nil {
		var reply redisError
		if !errors.As(err, &reply) {
			// The stream position is unknown after a transport failure.
			c.resetLocked()
		}
		return nil, err
	}
	return resp, nil
}

func (c *RedisStore) ensureConnectionLocked(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var (
		conn net.Conn
		err  error
	)
	if c.cfg.TLS {
		dialer := &tls.Dialer{NetDialer: &net.Dialer{}}
		conn, err = dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	} else {
		dialer := &net.Dialer{}
		conn, err = dialer.DialContext(dialCtx, "tcp", c.cfg.Address)
	}
	if err != nil {
		return err
	}

	reader := bufio.NewReader(conn)
	if err := conn.SetDeadline(deadlineFromContext(dialCtx, c.cfg.Timeout)); err != nil {
		conn.Close()
		return err
	}

	if c.cfg.Password != "" || c.cfg.Username != "" {
		authArgs := []string{"AUTH"}
		if c.cfg.Username != "" {
			authArgs = append(authArgs, c.cfg.Username)
		}
		authArgs = append(authArgs, c.cfg.Password)
		if err := handshake(conn, reader, authArgs); err != nil {
			conn.Close()
			return fmt.Errorf("redis: AUTH failed: %w", err)
		}
	}

	if c.cfg.DB > 0 {
		if err := handshake(conn, reader, []string{"SELECT", strconv.Itoa(c.cfg.DB)}); err != nil {
			conn.Close()
			return fmt.Errorf("redis: SELECT failed: %w", err)
		}
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.reader = reader
	return nil
}

func handshake(conn net.Conn, reader *bufio.Reader, args []string) error {
	if err := writeCommand(conn, args); err != nil {
		return err
	}
	resp, err := readResponse(reader)
	if err != nil {
		return err
	}
	if str, ok := resp.(string); !ok || !strings.EqualFold(str, "OK") {
		return fmt.Errorf("unexpected reply %v", resp)
	}
	return nil
}

func (c *RedisStore) resetLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.reader = nil
}

func deadlineFromContext(ctx context.Context, fallback time.Duration) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Now().Add(fallback)
}

func writeCommand(w io.Writer, args []string) error {
	var builder strings.Builder
	builder.WriteByte('*')
	builder.WriteString(strconv.Itoa(len(args)))
	builder.WriteString("\r\n")
	for _, arg := range args {
		builder.WriteByte('$')
		builder.WriteString(strconv.Itoa(len(arg)))
		builder.WriteString("\r\n")
		builder.WriteString(arg)
		builder.WriteString("\r\n")
	}
	_, err := io.WriteString(w, builder.String())
	return err
}

func readResponse(r *bufio.Reader) (interface{}, error) {
	prefix, err := r.ReadByte()
	if err != nil {
		return nil, err
	}

	line, err := readLine(r)
	if err != nil {
		return nil, err
	}

	switch prefix {
	case '+':
		return line, nil
	case '-':
		return nil, redisError(line)
	case ':':
		return strconv.ParseInt(line, 10, 64)
	case '$':
		length, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if length < 0 {
			return nil, nil
		}
		buf := make([]byte, length+2)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		if buf[length] != '\r' || buf[length+1] != '\n' {
			return nil, errors.New("redis: expected CRLF")
		}
		return buf[:length], nil
	case '*':
		count, err := strconv.Atoi(line)
		if err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, nil
		}
		items := make([]interface{}, count)
		for i := range items {
			item, err := readResponse(r)
			if err != nil {
				return nil, err
			}
			items[i] = item
		}
		return items, nil
	default:
		return nil, fmt.Errorf("redis: unexpected prefix %q", prefix)
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r"), nil
}

func escapeGlob(s string) string {
	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			builder.WriteByte('\\')
		}
		builder.WriteRune(r)
	}
	return builder.String()
}

func formatMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
