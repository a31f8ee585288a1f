// ABOUTME: Optional tailnet listeners for the chat API and the gRPC health service
// ABOUTME: Resolves node state and auth key, then exposes HTTP as plain, HTTPS or Funnel

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/coven-chat/internal/config"
)

// Tailnet ports
const (
	tailnetGRPCAddr  = ":50051"
	tailnetHTTPAddr  = ":80"
	tailnetHTTPSAddr = ":443"
)

// How the chat API is exposed on the tailnet
const (
	tailnetPlain  = "http"
	tailnetHTTPS  = "https"
	tailnetFunnel = "funnel"
)

// tailnetListener is the part of a tsnet node the gateway listens through.
type tailnetListener interface {
	Listen(network, addr string) (net.Listener, error)
	ListenTLS(network, addr string) (net.Listener, error)
	ListenFunnel(network, addr string, opts ...tsnet.FunnelOption) (net.Listener, error)
}

var _ tailnetListener = (*tsnet.Server)(nil)

// tailnetMode picks the HTTP exposure. Funnel implies HTTPS.
func tailnetMode(cfg config.TailscaleConfig) string {
	switch {
	case cfg.Funnel:
		return tailnetFunnel
	case cfg.HTTPS:
		return tailnetHTTPS
	default:
		return tailnetPlain
	}
}

// resolveTailscaleStateDir returns the node state directory.
// Default: $XDG_DATA_HOME/coven-chat/tailscale, else ~/.local/share/coven-chat/tailscale
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "coven-chat", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or TS_AUTHKEY.
func resolveTailscaleAuthKey(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	if envKey := os.Getenv("TS_AUTHKEY"); envKey != "" {
		return envKey, nil
	}
	return "", errors.New("tailscale auth key required: set tailscale.auth_key in config or TS_AUTHKEY environment variable")
}

// listenTailnetHTTP opens the chat API listener for the configured mode.
func listenTailnetHTTP(node tailnetListener, cfg config.TailscaleConfig) (net.Listener, string, error) {
	mode := tailnetMode(cfg)

	var ln net.Listener
	var err error
	switch mode {
	case tailnetFunnel:
		ln, err = node.ListenFunnel("tcp", tailnetHTTPSAddr)
	case tailnetHTTPS:
		ln, err = node.ListenTLS("tcp", tailnetHTTPSAddr)
	default:
		ln, err = node.Listen("tcp", tailnetHTTPAddr)
	}
	if err != nil {
		return nil, mode, fmt.Errorf("listening on tailnet (%s): %w", mode, err)
	}
	return ln, mode, nil
}

// listenTailnet opens the HTTP listener and, when gRPC is served, the gRPC
// listener. Nothing is left open on error.
func (g *Gateway) listenTailnet(node tailnetListener) (grpcLn, httpLn net.Listener, err error) {
	if g.grpcServer != nil {
		grpcLn, err = node.Listen("tcp", tailnetGRPCAddr)
		if err != nil {
			return nil, nil, fmt.Errorf("listening on tailnet gRPC port: %w", err)
		}
	}

	var mode string
	httpLn, mode, err = listenTailnetHTTP(node, g.config.Tailscale)
	if err != nil {
		if grpcLn != nil {
			_ = grpcLn.Close()
		}
		return nil, nil, err
	}

	g.logger.Info("chat API on tailnet", "mode", mode, "addr", httpLn.Addr().String())
	return grpcLn, httpLn, nil
}

// tailnetAddress extracts the node's first tailnet IP and its DNS name.
func tailnetAddress(status *ipnstate.Status) (ip, dnsName string) {
	if status == nil {
		return "", ""
	}
	if len(status.TailscaleIPs) > 0 {
		ip = status.TailscaleIPs[0].String()
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	return ip, dnsName
}

// setupTailscaleListeners brings up a tsnet node and listens on it.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (grpcLn, httpLn net.Listener, err error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return nil, nil, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, nil, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return nil, nil, err
	}

	tsLogger := g.logger.With("component", "tailscale")
	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
		Logf: func(format string, args ...any) {
			tsLogger.Debug(fmt.Sprintf(format, args...))
		},
		UserLogf: func(format string, args ...any) {
			tsLogger.Info(fmt.Sprintf(format, args...))
		},
	}

	tsLogger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, fmt.Errorf("starting tailscale: %w", err)
	}

	ip, dnsName := tailnetAddress(status)
	if ip == "" {
		tsLogger.Warn("tailscale node has no IP addresses assigned")
	}
	tsLogger.Info("tailscale node ready", "hostname", tsCfg.Hostname, "tailscale_ip", ip, "dns_name", dnsName)

	grpcLn, httpLn, err = g.listenTailnet(g.tsnetServer)
	if err != nil {
		_ = g.tsnetServer.Close()
		return nil, nil, err
	}
	return grpcLn, httpLn, nil
}
