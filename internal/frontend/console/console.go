package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-kadnode/pkg/lib/log"
)

var logger = log.Logger("frontend/console")

// maxLineLength 单行命令最大长度
const maxLineLength = 1024

// Server 控制台服务器
type Server struct {
	cfg  *Config
	cmds *Commands
	sem  *semaphore.Weighted

	ln       net.Listener
	mu       sync.Mutex
	sessions map[string]net.Conn
	wg       sync.WaitGroup
	started  atomic.Bool
	closed   atomic.Bool
}

// New 创建控制台服务器
func New(cfg *Config, cmds *Commands) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cmds == nil {
		return nil, errors.New("console: nil commands")
	}
	return &Server{
		cfg:      cfg,
		cmds:     cmds,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConns)),
		sessions: make(map[string]net.Conn),
	}, nil
}

// Start 开始监听
func (s *Server) Start(_ context.Context) error {
	if !s.cfg.Enabled {
		logger.Debug("控制台已禁用")
		return nil
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("console: listen %s: %w", s.cfg.Listen, err)
	}
	s.ln = ln

	s.wg.Add(1)
	go s.acceptLoop()

	logger.Info("控制台已启动", "addr", ln.Addr().String())
	return nil
}

// Stop 关闭监听与所有会话
func (s *Server) Stop(_ context.Context) error {
	if s.ln == nil || !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ln.Close()

	s.mu.Lock()
	for _, c := range s.sessions {
		_ = c.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	logger.Debug("控制台已停止")
	return err
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Debug("接受连接失败", "error", err)
			continue
		}

		if !s.sem.TryAcquire(1) {
			_, _ = conn.Write([]byte("error: too many connections\n\n"))
			_ = conn.Close()
			continue
		}

		id := uuid.NewString()
		s.mu.Lock()
		s.sessions[id] = conn
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.serve(id, conn)
		}()
	}
}

// serve 处理一个会话，每行一条命令
func (s *Server) serve(id string, conn net.Conn) {
	defer func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	logger.Debug("控制台会话开始", "session", id, "remote", conn.RemoteAddr().String())

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 256), maxLineLength)
	w := bufio.NewWriter(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.CommandTimeout)
		out, err := s.cmds.Execute(ctx, line)
		cancel()

		if err != nil {
			logger.Debug("命令失败", "session", id, "command", line, "error", err)
			fmt.Fprintf(w, "error: %v\n\n", err)
		} else {
			fmt.Fprintf(w, "%s\n\n", out)
		}
		if err := w.Flush(); err != nil {
			break
		}
	}

	if err := scanner.Err(); err != nil && !s.closed.Load() {
		logger.Debug("控制台会话结束", "session", id, "error", err)
	}
}
