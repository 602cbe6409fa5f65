package transport

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/davral/epiring/internal/overlay"
	"github.com/davral/epiring/pkg/hash"
)

// Message types. Every request type has exactly one reply type; errors
// travel as msgError regardless of the request.
type msgType string

const (
	msgPing            msgType = "PING"
	msgPong            msgType = "PONG"
	msgFindNode        msgType = "FIND_NODE"
	msgFindNodeOK      msgType = "FIND_NODE_OK"
	msgNotify          msgType = "NOTIFY"
	msgNeighbors       msgType = "NEIGHBORS"
	msgNeighborsOK     msgType = "NEIGHBORS_OK"
	msgFalseNegWarning msgType = "FALSE_NEG_WARNING"
	msgGet             msgType = "GET"
	msgGetOK           msgType = "GET_OK"
	msgSet             msgType = "SET"
	msgDelete          msgType = "DELETE"
	msgAck             msgType = "ACK"
	msgError           msgType = "ERROR"
)

// envelope is the framing for every message on a stream: a type tag plus
// a type-specific JSON payload.
type envelope struct {
	Type    msgType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeMessage(t msgType, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", t, err)
		}
		raw = data
	}
	return json.Marshal(envelope{Type: t, Payload: raw})
}

func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope missing type")
	}
	return &env, nil
}

func (e *envelope) decodePayload(v any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("unmarshal %s payload: %w", e.Type, err)
	}
	return nil
}

// wireHandle is the serializable form of a node handle. The ring key
// travels as lowercase hex.
type wireHandle struct {
	ID   string `json:"id"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

func fromHandle(h *overlay.NodeHandle) wireHandle {
	if h.IsNil() {
		return wireHandle{}
	}
	return wireHandle{ID: h.ID.Text(16), Host: h.Host, Port: h.Port}
}

func fromHandles(handles []*overlay.NodeHandle) []wireHandle {
	out := make([]wireHandle, 0, len(handles))
	for _, h := range handles {
		if !h.IsNil() {
			out = append(out, fromHandle(h))
		}
	}
	return out
}

func (w wireHandle) toHandle() (*overlay.NodeHandle, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("wire handle missing id")
	}
	id, ok := new(big.Int).SetString(w.ID, 16)
	if !ok {
		return nil, fmt.Errorf("invalid handle id %q", w.ID)
	}
	if !hash.IsValidID(id) {
		return nil, fmt.Errorf("handle id %q outside ring", w.ID)
	}
	return overlay.NewNodeHandle(id, w.Host, w.Port), nil
}

func toHandles(wires []wireHandle) ([]*overlay.NodeHandle, error) {
	out := make([]*overlay.NodeHandle, 0, len(wires))
	for _, w := range wires {
		h, err := w.toHandle()
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, nil
}

type pingRequest struct {
	Message string `json:"message"`
}

type pingReply struct {
	Message string `json:"message"`
}

type findNodeRequest struct {
	Target string `json:"target"` // hex ring key
}

// findNodeReply carries the responder's identity and its closest known
// nodes for the target.
//
// ClosestNodes is a fixed-layout list. A responder that believes it owns
// the target reports itself at position 0, its predecessor at position 1,
// and its successor at position 2, then any further close nodes. Any
// other responder orders the list best-first by ring distance. Owner is
// the explicit ownership assertion matching the self-first layout.
type findNodeReply struct {
	Source       wireHandle   `json:"source"`
	ClosestNodes []wireHandle `json:"closest_nodes"`
	Owner        bool         `json:"owner,omitempty"`
}

type notifyRequest struct {
	Node wireHandle `json:"node"`
}

type neighborsReply struct {
	Predecessors []wireHandle `json:"predecessors"`
	Successors   []wireHandle `json:"successors"`
}

type falseNegWarningRequest struct {
	Predecessor wireHandle   `json:"predecessor"`
	Successor   wireHandle   `json:"successor"`
	Dead        []wireHandle `json:"dead"`
}

type getRequest struct {
	Key string `json:"key"`
}

type getReply struct {
	Value []byte `json:"value,omitempty"`
	Found bool   `json:"found"`
}

type setRequest struct {
	Key   string        `json:"key"`
	Value []byte        `json:"value"`
	TTL   time.Duration `json:"ttl,omitempty"`
}

type deleteRequest struct {
	Key string `json:"key"`
}

type errorReply struct {
	Error string `json:"error"`
}
