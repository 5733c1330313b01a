// Package net is the TCP listener and connection-lifecycle layer for
// the PostgreSQL wire protocol front-end spec.md §1 names as an
// external collaborator and §6 fixes the contract for. It owns socket
// accept/dispatch only; server/protocol frames bytes and
// server/session/server/dispatcher decide what a frame means, in the
// same layering the teacher repo's server/net -> server/protocol ->
// server/dispatcher -> server/innodb/engine stack uses.
package net

import (
	"net"
	"strconv"
	"sync"
	"time"

	log "github.com/AlexStocks/log4go"
	gxnet "github.com/dubbogo/gost/net"
	gxsync "github.com/dubbogo/gost/sync"
	jerrors "github.com/juju/errors"

	"github.com/fr3ddy-fryd3/postgrust-sql/server/conf"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/dispatcher"
	"github.com/fr3ddy-fryd3/postgrust-sql/server/innodb/engine"
)

const logBanner = `
******************************************************************************************
 ____           _                     _____ ____   _
|  _ \ ___  ___| |_ __ _ _ __ _   _ __| ____/ ___| | |
| |_) / _ \/ __| __/ _` + "`" + ` | '__| | | / _` + "`" + ` |  _| \___ \| |
|  __/ (_) \__ \ || (_| | |  | |_| \__, |____) |__) | |___
|_|   \___/|___/\__\__, |_|   \__, |___/|____/____/|_____|
                    |___/     |___/
******************************************************************************************
`

// Server accepts TCP connections and hands each one to a conn
// that speaks the PostgreSQL wire protocol against a shared Engine.
type Server struct {
	cfg  *conf.Cfg
	eng  *engine.Engine
	disp *dispatcher.Dispatcher

	taskPool gxsync.GenericTaskPool

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// New wires a Server to eng/disp using cfg's bind address.
func New(cfg *conf.Cfg, eng *engine.Engine, disp *dispatcher.Dispatcher) *Server {
	return &Server{
		cfg:      cfg,
		eng:      eng,
		disp:     disp,
		taskPool: gxsync.NewTaskPoolSimple(0),
	}
}

// Start binds the listener and runs the accept loop until Stop is
// called or the listener errors out. It blocks the calling goroutine.
func (s *Server) Start() error {
	addr := gxnet.HostAddress2(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return jerrors.Annotatef(err, "net.Listen(tcp, addr:%s)", addr)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	log.Info(logBanner)
	log.Info("postgrust-sql listening on %s (data_dir=%s)", addr, s.cfg.DataDir)

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			if netErr, ok := err.(net.Error); ok && netErr.Temporary() {
				log.Warn("server.Accept() temporary error: %+v", err)
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return jerrors.Trace(err)
		}
		if gxnet.IsSameAddr(conn.RemoteAddr(), conn.LocalAddr()) {
			log.Warn("server.Accept() refused self-connect from %s", conn.RemoteAddr())
			conn.Close()
			continue
		}

		c := newConn(conn, s.cfg, s.eng, s.disp)
		s.taskPool.AddTask(func() {
			c.serve()
		})
	}
}

// Stop closes the listener, causing Start's accept loop to return, and
// drains the task pool.
func (s *Server) Stop() error {
	s.mu.Lock()
	s.closed = true
	ln := s.listener
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	if s.taskPool != nil {
		s.taskPool.Close()
	}
	return err
}
