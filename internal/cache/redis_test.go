package cache

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeRedisValue struct {
	data      string
	expiresAt time.Time
}

// fakeRedis is a tiny RESP server covering the commands RedisStore sends.
type fakeRedis struct {
	t        *testing.T
	listener net.Listener
	password string

	mu       sync.Mutex
	data     map[string]fakeRedisValue
	commands []string
	selected int
}

func startFakeRedis(t *testing.T, password string) *fakeRedis {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := &fakeRedis{t: t, listener: ln, password: password, data: map[string]fakeRedisValue{}}
	go srv.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return srv
}

func (s *fakeRedis) addr() string {
	return s.listener.Addr().String()
}

func (s *fakeRedis) put(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = fakeRedisValue{data: value}
}

func (s *fakeRedis) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live(key)
	return ok
}

func (s *fakeRedis) seen(command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.commands {
		if c == command {
			return true
		}
	}
	return false
}

func (s *fakeRedis) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handle(conn)
	}
}

func (s *fakeRedis) handle(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)
	authed := s.password == ""

	for {
		args, err := readCommand(reader)
		if err != nil {
			return
		}
		cmd := strings.ToUpper(args[0])

		if cmd == "AUTH" {
			if args[len(args)-1] == s.password {
				authed = true
				fmt.Fprint(conn, "+OK\r\n")
			} else {
				fmt.Fprint(conn, "-WRONGPASS invalid password\r\n")
			}
			continue
		}
		if !authed {
			fmt.Fprint(conn, "-NOAUTH Authentication required.\r\n")
			continue
		}

		s.mu.Lock()
		s.commands = append(s.commands, cmd)
		reply := s.exec(cmd, args[1:])
		s.mu.Unlock()

		if _, err := conn.Write([]byte(reply)); err != nil {
			return
		}
	}
}

func readCommand(r *bufio.Reader) ([]string, error) {
	line, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(line, "*") {
		return nil, errors.New("expected array")
	}
	n, err := strconv.Atoi(line[1:])
	if err != nil {
		return nil, err
	}
	args := make([]string, n)
	for i := range args {
		resp, err := readResponse(r)
		if err != nil {
			return nil, err
		}
		raw, ok := resp.([]byte)
		if !ok {
			return nil, errors.New("expected bulk string")
		}
		args[i] = string(raw)
	}
	return args, nil
}

func (s *fakeRedis) live(key string) (fakeRedisValue, bool) {
	v, ok := s.data[key]
	if !ok {
		return v, false
	}
	if !v.expiresAt.IsZero() && !time.Now().Before(v.expiresAt) {
		delete(s.data, key)
		return v, false
	}
	return v, true
}

func bulk(s string) string {
	return fmt.Sprintf("$%d\r\n%s\r\n", len(s), s)
}

func (s *fakeRedis) exec(cmd string, args []string) string {
	switch cmd {
	case "PING":
		return "+PONG\r\n"
	case "SELECT":
		s.selected, _ = strconv.Atoi(args[0])
		return "+OK\r\n"
	case "GET":
		v, ok := s.live(args[0])
		if !ok {
			return "$-1\r\n"
		}
		return bulk(v.data)
	case "MGET":
		var b strings.Builder
		fmt.Fprintf(&b, "*%d\r\n", len(args))
		for _, key := range args {
			if v, ok := s.live(key); ok {
				b.WriteString(bulk(v.data))
			} else {
				b.WriteString("$-1\r\n")
			}
		}
		return b.String()
	case "SET":
		v := fakeRedisValue{data: args[1]}
		if len(args) == 4 && strings.EqualFold(args[2], "PX") {
			ms, err := strconv.ParseInt(args[3], 10, 64)
			if err != nil || ms <= 0 {
				return "-ERR invalid expire time in 'set' command\r\n"
			}
			v.expiresAt = time.Now().Add(time.Duration(ms) * time.Millisecond)
		}
		s.data[args[0]] = v
		return "+OK\r\n"
	case "DEL":
		removed := 0
		for _, key := range args {
			if _, ok := s.live(key); ok {
				delete(s.data, key)
				removed++
			}
		}
		return fmt.Sprintf(":%d\r\n", removed)
	case "EXISTS":
		if _, ok := s.live(args[0]); ok {
			return ":1\r\n"
		}
		return ":0\r\n"
	case "INCRBY":
		delta, _ := strconv.ParseInt(args[1], 10, 64)
		v, ok := s.live(args[0])
		var base int64
		if ok {
			n, err := strconv.ParseInt(v.data, 10, 64)
			if err != nil {
				return "-ERR value is not an integer or out of range\r\n"
			}
			base = n
		}
		sum, overflow := addInt64(base, delta)
		if overflow {
			return "-ERR increment or decrement would overflow\r\n"
		}
		v.data = strconv.FormatInt(sum, 10)
		s.data[args[0]] = v
		return fmt.Sprintf(":%d\r\n", sum)
	case "SCAN":
		prefix := strings.TrimSuffix(strings.ReplaceAll(args[2], "\\", ""), "*")
		var matched []string
		for key := range s.data {
			if strings.HasPrefix(key, prefix) {
				matched = append(matched, key)
			}
		}
		var b strings.Builder
		b.WriteString("*2\r\n")
		b.WriteString(bulk("0"))
		fmt.Fprintf(&b, "*%d\r\n", len(matched))
		for _, key := range matched {
			b.WriteString(bulk(key))
		}
		return b.String()
	default:
		return fmt.Sprintf("-ERR unknown command '%s'\r\n", cmd)
	}
}

func newRedisStoreForTest(t *testing.T, srv *fakeRedis, cfg RedisConfig) *RedisStore {
	t.Helper()
	cfg.Address = srv.addr()
	store, err := NewRedisStore(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreRequiresAddress(t *testing.T) {
	_, err := NewRedisStore(context.Background(), RedisConfig{})
	require.Error(t, err)
}

func TestRedisStoreSetGetDelete(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{})

	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, store.Set(ctx, "k", []byte(`"v"`), NoExpiration))
	require.True(t, srv.has("simplecache:k"))

	value, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `"v"`, string(value))

	exists, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	require.True(t, exists)

	require.NoError(t, store.Delete(ctx, "k", "other"))
	exists, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{})

	require.NoError(t, store.Set(ctx, "k", []byte(`1`), 30*time.Millisecond))
	require.NoError(t, store.Set(ctx, "tiny", []byte(`1`), time.Microsecond))

	time.Sleep(60 * time.Millisecond)
	_, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get(ctx, "tiny")
	require.NoError(t, err)
	require.False(t, ok, "sub-millisecond ttl still expires")
}

func TestRedisStoreGetMany(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{KeyPrefix: "app:"})

	require.NoError(t, store.Set(ctx, "k1", []byte(`"one"`), NoExpiration))
	require.NoError(t, store.Set(ctx, "k3", []byte(`"three"`), NoExpiration))

	got, err := store.GetMany(ctx, []string{"k1", "k2", "k3"})
	require.NoError(t, err)
	require.Equal(t, map[string][]byte{"k1": []byte(`"one"`), "k3": []byte(`"three"`)}, got)
}

func TestRedisStoreCounters(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{})

	n, err := store.IncrementBy(ctx, "hits", 1)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = store.IncrementBy(ctx, "hits", -3)
	require.NoError(t, err)
	require.EqualValues(t, -2, n)

	require.NoError(t, store.Set(ctx, "name", []byte(`"alice"`), NoExpiration))
	_, err = store.IncrementBy(ctx, "name", 1)
	require.ErrorIs(t, err, ErrNotInteger)

	require.NoError(t, store.Set(ctx, "max", FormatInteger(math.MaxInt64), NoExpiration))
	_, err = store.IncrementBy(ctx, "max", 1)
	require.ErrorIs(t, err, ErrCounterOverflow)

	// Error replies leave the connection usable.
	require.NoError(t, store.Ping(ctx))
}

func TestRedisStoreClearOnlyTouchesPrefix(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{KeyPrefix: "cache:"})

	srv.put("other:keep", "1")
	require.NoError(t, store.Set(ctx, "a", []byte(`1`), NoExpiration))
	require.NoError(t, store.Set(ctx, "b", []byte(`2`), NoExpiration))

	require.NoError(t, store.Clear(ctx))

	require.False(t, srv.has("cache:a"))
	require.False(t, srv.has("cache:b"))
	require.True(t, srv.has("other:keep"))
}

func TestRedisStoreAuthAndSelect(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "s3cret")

	_, err := NewRedisStore(ctx, RedisConfig{Address: srv.addr(), Password: "wrong"})
	require.Error(t, err)

	store := newRedisStoreForTest(t, srv, RedisConfig{Password: "s3cret", DB: 2})
	require.NoError(t, store.Ping(ctx))
	require.True(t, srv.seen("SELECT"))
}

func TestRedisStoreClosed(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	store := newRedisStoreForTest(t, srv, RedisConfig{})

	require.NoError(t, store.Close())
	_, _, err := store.Get(ctx, "k")
	require.ErrorIs(t, err, ErrClosed)
}

func TestRedisStoreThroughTyped(t *testing.T) {
	ctx := context.Background()
	srv := startFakeRedis(t, "")
	typed := NewTyped[int](newRedisStoreForTest(t, srv, RedisConfig{}), nil, nil)

	require.True(t, typed.Set(ctx, "n", 41, TTLMinute))
	n, err := typed.Increment(ctx, "n", DefaultStep)
	require.NoError(t, err)
	require.EqualValues(t, 42, n)

	value, ok := typed.Get(ctx, "n")
	require.True(t, ok)
	require.Equal(t, 42, value)
}

func TestEscapeGlob(t *testing.T) {
	require.Equal(t, `a\*b\?c\[d\]`, escapeGlob("a*b?c[d]"))
}
