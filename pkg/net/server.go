// Package net serves the line-based SQL protocol over TCP. Clients
// send statements terminated by ';' and receive formatted text back.
package net

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/CesarPetrescu/CrabSQL/internal/logger"
	"github.com/CesarPetrescu/CrabSQL/pkg/auth"
	"github.com/CesarPetrescu/CrabSQL/pkg/sql"
)

// Server accepts client connections and runs one session per
// connection.
type Server struct {
	addr   string
	eng    *sql.Engine
	auth   *auth.Manager
	log    *logger.Logger
	nextID atomic.Uint64
}

// NewServer builds a server bound to addr once Run is called.
func NewServer(addr string, eng *sql.Engine, authMgr *auth.Manager, log *logger.Logger) *Server {
	return &Server{addr: addr, eng: eng, auth: authMgr, log: log.Named("server")}
}

// Run listens and serves until the context is cancelled. Connection
// goroutines are supervised by an errgroup; cancellation closes the
// listener and drains them.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.log.Infow("listening", "addr", s.addr)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("accept: %w", err)
			}
			c := &connection{
				id:   s.nextID.Add(1),
				conn: conn,
				sess: sql.NewSession(s.eng, s.log),
				auth: s.auth,
				log:  s.log.With("conn", conn.RemoteAddr().String()),
			}
			g.Go(func() error {
				c.serve(ctx)
				return nil
			})
		}
	})
	err = g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

type connection struct {
	id   uint64
	conn net.Conn
	sess *sql.Session
	auth *auth.Manager
	log  *logger.Logger
}

func (c *connection) serve(ctx context.Context) {
	defer c.conn.Close()
	defer c.sess.Close()
	c.log.Infow("client connected", "id", c.id)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-ctx.Done()
		c.conn.Close()
	}()

	w := bufio.NewWriter(c.conn)
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	if !c.handshake(scanner, w) {
		return
	}

	var pending strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		pending.WriteString(line)
		pending.WriteString("\n")
		if !strings.Contains(line, ";") {
			continue
		}
		text := strings.TrimSpace(pending.String())
		pending.Reset()
		if text == ";" || text == "" {
			continue
		}
		if strings.EqualFold(strings.TrimSuffix(text, ";"), "quit") ||
			strings.EqualFold(strings.TrimSuffix(text, ";"), "exit") {
			fmt.Fprintln(w, "bye")
			w.Flush()
			return
		}
		res, err := c.sess.Execute(ctx, text)
		if err != nil {
			fmt.Fprintf(w, "ERROR: %v\n", err)
		} else {
			fmt.Fprintln(w, strings.TrimRight(res.Format(), "\n"))
		}
		w.Flush()
	}
	c.log.Infow("client disconnected", "id", c.id)
}

// handshake performs the AUTH exchange when authentication is on.
// The first line must be "AUTH <user> <password>".
func (c *connection) handshake(scanner *bufio.Scanner, w *bufio.Writer) bool {
	if !c.auth.Enabled() {
		return true
	}
	fmt.Fprintln(w, "AUTH REQUIRED")
	w.Flush()
	if !scanner.Scan() {
		return false
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) != 3 || !strings.EqualFold(fields[0], "AUTH") {
		fmt.Fprintln(w, "ERROR: expected AUTH <user> <password>")
		w.Flush()
		return false
	}
	if err := c.auth.Authenticate(fields[1], fields[2]); err != nil {
		c.log.Warnw("auth failed", "user", fields[1])
		fmt.Fprintf(w, "ERROR: %v\n", err)
		w.Flush()
		return false
	}
	fmt.Fprintln(w, "OK")
	w.Flush()
	return true
}
