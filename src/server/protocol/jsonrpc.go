// Package protocol implements JSON-RPC 2.0 framing over stdio streams as
// used by the Language Server Protocol.
package protocol

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"lsmcp/src/internal/common"
	"lsmcp/src/internal/constants"
)

const JSONRPCVersion = "2.0"

// JSON-RPC error codes.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
	RequestFailed  = -32803
)

// JSONRPCMessage is an outgoing JSON-RPC 2.0 message.
type JSONRPCMessage struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Method  string      `json:"method,omitempty"`
	Params  interface{} `json:"params,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// incomingMessage keeps params and result raw so the caller decides how to
// decode them.
type incomingMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

// RPCError is the error member of a JSON-RPC response.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// MessageHandler receives the three kinds of server-to-client traffic.
type MessageHandler interface {
	HandleRequest(method string, id interface{}, params json.RawMessage) error
	HandleResponse(id interface{}, result json.RawMessage, rpcErr *RPCError) error
	HandleNotification(method string, params json.RawMessage) error
}

// LSPJSONRPCProtocol frames and routes JSON-RPC messages for one language
// server connection.
type LSPJSONRPCProtocol struct {
	language string
}

func NewLSPJSONRPCProtocol(language string) *LSPJSONRPCProtocol {
	return &LSPJSONRPCProtocol{language: language}
}

// WriteMessage serializes a message with its Content-Length header. Header
// and body go out in a single write so concurrent writers cannot interleave
// frames.
func (p *LSPJSONRPCProtocol) WriteMessage(writer io.Writer, msg JSONRPCMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	frame := fmt.Sprintf("Content-Length: %d\r\n\r\n%s", len(data), data)
	_, err = writer.Write([]byte(frame))
	return err
}

// HandleResponses reads framed messages off the stream until EOF or stop and
// routes each to the handler. Unknown header lines are skipped; the header
// block ends at the first blank line. A Content-Length value that is not an
// integer means the framing is corrupt and the connection is unusable.
func (p *LSPJSONRPCProtocol) HandleResponses(reader io.Reader, handler MessageHandler, stopCh <-chan struct{}) error {
	bufReader := bufio.NewReaderSize(reader, constants.LSPResponseBufferSize)

	for {
		select {
		case <-stopCh:
			return nil
		default:
		}

		contentLength := 0
		for {
			line, err := bufReader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					return nil
				}
				return err
			}
			line = strings.TrimSpace(line)
			if line == "" {
				break
			}
			if value, ok := strings.CutPrefix(line, "Content-Length:"); ok {
				length, err := strconv.Atoi(strings.TrimSpace(value))
				if err != nil {
					return fmt.Errorf("invalid Content-Length %q from %s", strings.TrimSpace(value), p.language)
				}
				contentLength = length
			}
		}

		if contentLength <= 0 {
			continue
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(bufReader, body); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil
			}
			return err
		}

		if err := p.HandleMessage(body, handler); err != nil {
			common.LSPLogger.Error("Dropping message from %s: %v", p.language, err)
		}
	}
}

// HandleMessage routes one decoded message. A method with an id is a server
// request, a method without an id is a notification, an id without a method
// is a response to one of our requests.
func (p *LSPJSONRPCProtocol) HandleMessage(data []byte, handler MessageHandler) error {
	var msg incomingMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("unmarshal message from %s: %w", p.language, err)
	}

	switch {
	case msg.Method != "" && msg.ID != nil:
		common.LSPLogger.Debug("Server request from %s: method=%s id=%v", p.language, msg.Method, msg.ID)
		return handler.HandleRequest(msg.Method, msg.ID, msg.Params)
	case msg.Method != "":
		return handler.HandleNotification(msg.Method, msg.Params)
	case msg.ID != nil:
		if msg.Error != nil {
			common.LSPLogger.Debug("Error response from %s: id=%v code=%d message=%s",
				p.language, msg.ID, msg.Error.Code, msg.Error.Message)
		}
		return handler.HandleResponse(msg.ID, msg.Result, msg.Error)
	default:
		return fmt.Errorf("malformed JSON-RPC message: no id and no method")
	}
}

// CreateMessage builds a request message.
func CreateMessage(method string, id interface{}, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Method: method, Params: params}
}

// CreateNotification builds a notification, which carries no id.
func CreateNotification(method string, params interface{}) JSONRPCMessage {
	return JSONRPCMessage{JSONRPC: JSONRPCVersion, Method: method, Params: params}
}

// CreateResponse builds a response to a server-initiated request.
func CreateResponse(id interface{}, result interface{}, rpcErr *RPCError) JSONRPCMessage {
	return JSONRPCMessage{JSONRPC: JSONRPCVersion, ID: id, Result: result, Error: rpcErr}
}

func NewRPCError(code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}

func NewMethodNotFoundError(method string) *RPCError {
	return NewRPCError(MethodNotFound, "Method not found", method)
}
