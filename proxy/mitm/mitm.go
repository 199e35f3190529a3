// Package mitm adapts the goproxy MITM engine onto the flow controller's
// hooks. It intercepts HTTPS via TLS re-signing with the local CA and routes
// streaming response bodies through the per-chunk hook without buffering.
package mitm

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/agentprobe/agentprobe/proxy"
)

// Server terminates proxied connections and feeds every flow through the
// capture addon.
type Server struct {
	addon  *proxy.Addon
	engine *goproxy.ProxyHttpServer
	srv    *http.Server
	logger *zap.Logger
}

// NewServer builds the proxy engine around the addon. The CA certificate is
// used to re-sign upstream hosts for HTTPS interception.
func NewServer(addon *proxy.Addon, ca tls.Certificate, logger *zap.Logger) (*Server, error) {
	if err := configureCA(ca); err != nil {
		return nil, fmt.Errorf("configure CA: %w", err)
	}

	engine := goproxy.NewProxyHttpServer()
	engine.OnRequest().HandleConnect(goproxy.AlwaysMitm)

	s := &Server{
		addon:  addon,
		engine: engine,
		logger: logger,
	}

	engine.OnRequest().DoFunc(s.onRequest)
	engine.OnResponse().DoFunc(s.onResponse)

	return s, nil
}

// ListenAndServe serves the proxy on addr until Shutdown.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.engine}
	s.logger.Info("proxy listening", zap.String("addr", addr))
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new flows and lets in-flight ones complete.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) onRequest(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(r.Body)
		if err != nil {
			s.logger.Warn("read request body", zap.Error(err))
			body = nil
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	s.addon.OnRequest(flowID(ctx), proxy.FlowRequest{
		Method:  r.Method,
		URL:     r.URL.String(),
		Host:    r.URL.Hostname(),
		Path:    r.URL.Path,
		Headers: flattenHeaders(r.Header),
		Body:    body,
	})

	return r, nil
}

func (s *Server) onResponse(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
	id := flowID(ctx)
	if resp == nil {
		s.addon.OnResponse(id, nil)
		return resp
	}

	headers := flattenHeaders(resp.Header)

	if s.addon.OnResponseHeaders(id, headers["content-type"]) {
		resp.Body = &streamBody{
			inner:  resp.Body,
			addon:  s.addon,
			flowID: id,
			resp:   proxy.FlowResponse{StatusCode: resp.StatusCode, Headers: headers},
		}
		return resp
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		s.logger.Warn("read response body", zap.Error(err))
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	s.addon.OnResponse(id, &proxy.FlowResponse{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Body:       body,
	})
	return resp
}

// streamBody tees a streaming response body through the chunk hook and fires
// the completion hook when the upstream finishes or the client goes away.
type streamBody struct {
	inner  io.ReadCloser
	addon  *proxy.Addon
	flowID string
	resp   proxy.FlowResponse
	done   bool
}

func (b *streamBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if n > 0 {
		b.addon.OnStreamChunk(b.flowID, p[:n])
	}
	if err == io.EOF {
		b.complete()
	}
	return n, err
}

func (b *streamBody) Close() error {
	b.complete()
	return b.inner.Close()
}

func (b *streamBody) complete() {
	if b.done {
		return
	}
	b.done = true
	resp := b.resp
	b.addon.OnResponse(b.flowID, &resp)
}

func flowID(ctx *goproxy.ProxyCtx) string {
	return fmt.Sprintf("flow-%d", ctx.Session)
}

// flattenHeaders lowercases names and joins repeated values.
func flattenHeaders(h http.Header) map[string]string {
	flat := make(map[string]string, len(h))
	for name, values := range h {
		flat[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return flat
}

// configureCA installs ca as the signing identity for every MITM action.
func configureCA(ca tls.Certificate) error {
	if len(ca.Certificate) == 0 {
		return fmt.Errorf("empty CA certificate")
	}
	leaf, err := x509.ParseCertificate(ca.Certificate[0])
	if err != nil {
		return fmt.Errorf("parse CA certificate: %w", err)
	}
	ca.Leaf = leaf

	goproxy.GoproxyCa = ca
	tlsConfig := goproxy.TLSConfigFromCA(&ca)
	goproxy.OkConnect = &goproxy.ConnectAction{Action: goproxy.ConnectAccept, TLSConfig: tlsConfig}
	goproxy.MitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: tlsConfig}
	goproxy.HTTPMitmConnect = &goproxy.ConnectAction{Action: goproxy.ConnectHTTPMitm, TLSConfig: tlsConfig}
	goproxy.RejectConnect = &goproxy.ConnectAction{Action: goproxy.ConnectReject, TLSConfig: tlsConfig}
	return nil
}
