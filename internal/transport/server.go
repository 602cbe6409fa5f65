package transport

import (
	"context"
	"fmt"
	"io"
	"math/big"

	"github.com/quic-go/quic-go"

	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg"
	"github.com/davral/epiring/pkg/hash"
)

// Server accepts QUIC connections from other nodes and dispatches their
// requests to the overlay node. Each request occupies one bidirectional
// stream: the client writes an envelope and closes its write side, the
// server answers with exactly one envelope.
type Server struct {
	node   *overlay.Node
	logger *pkg.Logger

	address  string
	listener *quic.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates a QUIC server for the given overlay node.
func NewServer(node *overlay.Node, address string, logger *pkg.Logger) (*Server, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		node:    node,
		address: address,
		logger:  logger.WithFields(pkg.Fields{"component": "quic_server"}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins listening and serving in the background.
func (s *Server) Start() error {
	tlsConf, err := serverTLSConfig()
	if err != nil {
		return fmt.Errorf("tls config: %w", err)
	}

	listener, err := quic.ListenAddr(s.address, tlsConf, nil)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener

	s.logger.Info().
		Str("address", s.address).
		Msg("Starting QUIC server")

	go s.acceptLoop()
	return nil
}

// Addr returns the address the server is actually listening on. Only
// meaningful after Start; useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.address
	}
	return s.listener.Addr().String()
}

// Stop closes the listener and stops accepting new requests.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping QUIC server")

	s.cancel()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.logger.Error().Err(err).Msg("Accept failed")
			return
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn *quic.Conn) {
	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			return
		}
		go s.handleStream(stream)
	}
}

func (s *Server) handleStream(stream *quic.Stream) {
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil || len(data) == 0 {
		return
	}

	env, err := decodeEnvelope(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed request")
		s.writeError(stream, err)
		return
	}

	reply, err := s.dispatch(env)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("type", string(env.Type)).
			Msg("Request failed")
		s.writeError(stream, err)
		return
	}

	if _, err := stream.Write(reply); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write reply")
	}
}

func (s *Server) writeError(stream *quic.Stream, cause error) {
	reply, err := encodeMessage(msgError, errorReply{Error: cause.Error()})
	if err != nil {
		return
	}
	_, _ = stream.Write(reply)
}

func (s *Server) dispatch(env *envelope) ([]byte, error) {
	switch env.Type {
	case msgPing:
		var req pingRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		return encodeMessage(msgPong, pingReply{Message: req.Message})

	case msgFindNode:
		var req findNodeRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		return s.handleFindNode(req)

	case msgNotify:
		var req notifyRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		h, err := req.Node.toHandle()
		if err != nil {
			return nil, err
		}
		s.node.Notify(h)
		return encodeMessage(msgAck, nil)

	case msgNeighbors:
		predecessors, successors := s.node.Neighbors()
		return encodeMessage(msgNeighborsOK, neighborsReply{
			Predecessors: fromHandles(predecessors),
			Successors:   fromHandles(successors),
		})

	case msgFalseNegWarning:
		var req falseNegWarningRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		return s.handleFalseNegWarning(req)

	case msgGet:
		var req getRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		value, found, err := s.node.StorageGet(s.ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return encodeMessage(msgGetOK, getReply{Value: value, Found: found})

	case msgSet:
		var req setRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		if err := s.node.StorageSet(s.ctx, req.Key, req.Value, req.TTL); err != nil {
			return nil, err
		}
		return encodeMessage(msgAck, nil)

	case msgDelete:
		var req deleteRequest
		if err := env.decodePayload(&req); err != nil {
			return nil, err
		}
		if err := s.node.StorageDelete(s.ctx, req.Key); err != nil {
			return nil, err
		}
		return encodeMessage(msgAck, nil)

	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
}

func (s *Server) handleFindNode(req findNodeRequest) ([]byte, error) {
	target, ok := new(big.Int).SetString(req.Target, 16)
	if !ok || !hash.IsValidID(target) {
		return nil, fmt.Errorf("invalid target %q", req.Target)
	}

	count := s.node.Config().RedundantNodes
	closest := s.node.ClosestNodes(target, count)

	return encodeMessage(msgFindNodeOK, findNodeReply{
		Source:       fromHandle(s.node.Handle()),
		ClosestNodes: fromHandles(closest),
		Owner:        s.node.IsResponsible(target),
	})
}

func (s *Server) handleFalseNegWarning(req falseNegWarningRequest) ([]byte, error) {
	predecessor, err := req.Predecessor.toHandle()
	if err != nil {
		return nil, err
	}
	successor, err := req.Successor.toHandle()
	if err != nil {
		return nil, err
	}
	dead, err := toHandles(req.Dead)
	if err != nil {
		return nil, err
	}

	s.node.HandleFalseNegWarning(predecessor, successor, dead)
	return encodeMessage(msgAck, nil)
}
