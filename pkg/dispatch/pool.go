package dispatch

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	"github.com/tarsy-oss/funnel/pkg/dispatch/agentpb"
)

const (
	maxMessageSize      = 500 << 20 // 500 MiB, accommodates large listings
	keepaliveInterval   = 30 * time.Second
	keepaliveTimeout    = 10 * time.Second
)

// channelKey identifies one pooled channel. Agents are re-resolved by the
// Discovery cache, so a changed ip/port for the same agent_id gets its own
// entry rather than silently reusing a stale channel.
type channelKey struct {
	agentID string
	ip      string
	port    int
}

// pooledChannel bundles a gRPC connection with its typed stub.
type pooledChannel struct {
	conn   *grpc.ClientConn
	client agentpb.AgentServiceClient
}

// channelPool serializes channel creation per key (so two concurrent
// dispatches to the same agent don't race to dial twice) while reads of
// already-established channels take only the shared read lock.
type channelPool struct {
	mu       sync.RWMutex
	creating sync.Map // channelKey -> *sync.Mutex, serializes first-dial races
	channels map[channelKey]*pooledChannel

	// mTLS material; empty strings mean no material was configured.
	certPath, keyPath, caPath string
	// insecure is the explicit opt-out switch (FUNNEL_INSECURE): when true,
	// the pool never attempts mTLS regardless of what paths are configured.
	insecure bool
	// caFingerprint, if set, pins every agent connection to this SHA-256
	// fingerprint unless the agent's own discovery reply supplies a more
	// specific one.
	caFingerprint string
}

func newChannelPool(certPath, keyPath, caPath string, insecure bool, caFingerprint string) *channelPool {
	return &channelPool{
		channels:      make(map[channelKey]*pooledChannel),
		certPath:      certPath,
		keyPath:       keyPath,
		caPath:        caPath,
		insecure:      insecure,
		caFingerprint: caFingerprint,
	}
}

// get returns a healthy pooled channel for key, dialing a new one if absent
// or if the cached channel's connectivity state is SHUTDOWN/erroring.
// agentFingerprint is the certificate fingerprint the agent advertised in its
// discovery reply, if any, and takes precedence over the pool's configured
// caFingerprint when both are set.
func (p *channelPool) get(key channelKey, hostname, agentFingerprint string) (*pooledChannel, error) {
	p.mu.RLock()
	existing, ok := p.channels[key]
	p.mu.RUnlock()

	if ok && channelHealthy(existing.conn) {
		return existing, nil
	}

	lockIface, _ := p.creating.LoadOrStore(key, &sync.Mutex{})
	lock := lockIface.(*sync.Mutex)
	lock.Lock()
	defer lock.Unlock()

	// Re-check after acquiring the per-key lock — another goroutine may have
	// already redialed while we waited.
	p.mu.RLock()
	existing, ok = p.channels[key]
	p.mu.RUnlock()
	if ok && channelHealthy(existing.conn) {
		return existing, nil
	}

	if ok {
		existing.conn.Close()
	}

	conn, err := p.dial(key, hostname, agentFingerprint)
	if err != nil {
		return nil, err
	}
	pc := &pooledChannel{conn: conn, client: agentpb.NewAgentServiceClient(conn)}

	p.mu.Lock()
	p.channels[key] = pc
	p.mu.Unlock()

	return pc, nil
}

func channelHealthy(conn *grpc.ClientConn) bool {
	switch conn.GetState() {
	case connectivity.Shutdown, connectivity.TransientFailure:
		return false
	default:
		return true
	}
}

func (p *channelPool) dial(key channelKey, hostname, agentFingerprint string) (*grpc.ClientConn, error) {
	addr := fmt.Sprintf("%s:%d", key.ip, key.port)

	creds, err := p.transportCredentials(hostname, agentFingerprint)
	if err != nil {
		return nil, fmt.Errorf("building transport credentials for %s: %w", addr, err)
	}

	return grpc.NewClient(addr,
		grpc.WithTransportCredentials(creds),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    keepaliveInterval,
			Timeout: keepaliveTimeout,
		}),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMessageSize),
			grpc.MaxCallSendMsgSize(maxMessageSize),
		),
	)
}

// transportCredentials builds mTLS credentials when the pool has cert/key/CA
// material and p.insecure hasn't explicitly opted out. With p.insecure set,
// or with no material configured at all, it returns insecure credentials
// and logs a warning. Configured material that cannot be loaded (a missing
// file, an unparsable CA) is an error, not a silent fallback.
func (p *channelPool) transportCredentials(hostname, agentFingerprint string) (credentials.TransportCredentials, error) {
	if p.insecure {
		slog.Warn("gRPC dispatcher: insecure transport explicitly configured", "agent_host", hostname)
		return insecure.NewCredentials(), nil
	}

	if p.certPath == "" && p.keyPath == "" && p.caPath == "" {
		slog.Warn("gRPC dispatcher: no mTLS material configured, using insecure transport", "agent_host", hostname)
		return insecure.NewCredentials(), nil
	}

	cert, err := tls.LoadX509KeyPair(p.certPath, p.keyPath)
	if err != nil {
		return nil, fmt.Errorf("loading client keypair: %w", err)
	}
	caBytes, err := os.ReadFile(p.caPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no valid certificates found in %s", p.caPath)
	}

	pin := agentFingerprint
	if pin == "" {
		pin = p.caFingerprint
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   hostname,
		MinVersion:   tls.VersionTLS12,
	}
	if pin != "" {
		tlsCfg.VerifyPeerCertificate = verifyFingerprint(pin)
	}

	return credentials.NewTLS(tlsCfg), nil
}

// verifyFingerprint returns a tls.Config.VerifyPeerCertificate callback that
// additionally requires the leaf certificate's SHA-256 fingerprint to match
// want, tolerating colon-separated hex and mixed case.
func verifyFingerprint(want string) func([][]byte, [][]*x509.Certificate) error {
	wantNorm := normalizeFingerprint(want)
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("certificate fingerprint pin: no peer certificate presented")
		}
		sum := sha256.Sum256(rawCerts[0])
		got := hex.EncodeToString(sum[:])
		if got != wantNorm {
			return fmt.Errorf("certificate fingerprint pin mismatch: got %s, want %s", got, wantNorm)
		}
		return nil
	}
}

func normalizeFingerprint(fp string) string {
	fp = strings.ToLower(fp)
	fp = strings.ReplaceAll(fp, ":", "")
	fp = strings.ReplaceAll(fp, " ", "")
	return fp
}

func allFilesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// closeAll shuts down every pooled channel, used on process shutdown.
func (p *channelPool) closeAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, pc := range p.channels {
		pc.conn.Close()
		delete(p.channels, k)
	}
}
