package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/rpc"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alpenlabs/strata-sub002/log"
	"github.com/alpenlabs/strata-sub002/types"
)

const (
	SubTipBlock       = "subscribeTipBlock"
	SubFinalizedBlock = "subscribeFinalizedBlock"
	SubDeposits       = "subscribeDeposits"
	SubCheckpoint     = "subscribeCheckpoint"
	debugWeb          = log.WebMonitoring
)

// SubscriptionRequest is what a websocket client sends to start a feed.
type SubscriptionRequest struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type broadcastMsg struct {
	method string
	data   []byte
}

// Hub manages websocket client registration and fan-out. Notify calls
// never block: when nobody runs the hub (web server disabled) or the
// broadcast buffer is full, updates are dropped.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	ctx        context.Context
	cancel     context.CancelFunc
}

func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 64),
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (h *Hub) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-h.ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case msg := <-h.broadcast:
			for client := range h.clients {
				if !client.subscribed(msg.method) {
					continue
				}
				select {
				case client.send <- msg.data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
		}
	}
}

func (h *Hub) publish(method string, result any) {
	payload := struct {
		Method string `json:"method"`
		Result any    `json:"result"`
	}{Method: method, Result: result}
	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn(debugWeb, "marshal broadcast failed", "method", method, "err", err)
		return
	}
	select {
	case h.broadcast <- broadcastMsg{method: method, data: data}:
	default:
	}
}

func (h *Hub) NotifyTip(cur *types.ClientState) {
	if cur.Sync == nil {
		return
	}
	h.publish(SubTipBlock, map[string]any{
		"slot":  cur.Sync.TipSlot,
		"blkid": cur.Sync.TipBlkid,
	})
}

func (h *Hub) NotifyFinalized(cur *types.ClientState) {
	if cur.Sync == nil {
		return
	}
	h.publish(SubFinalizedBlock, map[string]any{
		"blkid":           cur.Sync.FinalizedBlkid,
		"finalized_epoch": cur.Sync.FinalizedEpoch,
	})
}

func (h *Hub) NotifyDeposits(cs *types.Chainstate) {
	h.publish(SubDeposits, map[string]any{
		"slot":     cs.CurSlot,
		"deposits": cs.DepositsTable,
	})
}

func (h *Hub) NotifyCheckpoint(a *types.WriteCheckpoint) {
	h.publish(SubCheckpoint, map[string]any{
		"epoch":      a.Epoch,
		"checkpoint": a.Checkpoint,
	})
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subMu         sync.Mutex
	subscriptions map[string]bool
}

func (c *Client) subscribed(method string) bool {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.subscriptions[method]
}

func (c *Client) addSubscription(method string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]bool)
	}
	c.subscriptions[method] = true
}

func (c *Client) readPump(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, message, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err) {
					log.Trace(debugWeb, "websocket close error", "err", err)
				}
				return
			}

			var req SubscriptionRequest
			if err := json.Unmarshal(message, &req); err != nil {
				log.Warn(debugWeb, "invalid subscription message", "err", err)
				continue
			}

			switch req.Method {
			case SubTipBlock, SubFinalizedBlock, SubDeposits, SubCheckpoint:
				c.addSubscription(req.Method)
				log.Info(debugWeb, "subscribed", "method", req.Method)
			default:
				log.Warn(debugWeb, "unknown subscription method", "method", req.Method)
			}
		}
	}
}

func (c *Client) writePump(ctx context.Context, wg *sync.WaitGroup) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			for len(c.send) > 0 {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}
			w.Close()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request, wg *sync.WaitGroup) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(debugWeb, "websocket upgrade failed", "err", err)
		return
	}
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256)}
	hub.register <- client

	wg.Add(2)
	go client.writePump(hub.ctx, wg)
	go client.readPump(hub.ctx, wg)
}

// startWeb brings up the status server: /ws for subscriptions and /rpc
// as a browser-reachable JSON POST proxy onto the node's RPC port.
func (n *Node) startWeb() {
	addr := fmt.Sprintf(":%d", n.config.WebPort)
	rpcAddr := fmt.Sprintf("localhost:%d", n.config.RPCPort)

	n.done.Add(1)
	go n.hub.run(&n.done)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(n.hub, w, r, &n.done)
	})
	mux.HandleFunc("/graph", func(w http.ResponseWriter, r *http.Request) {
		n.serveGraph(w, r)
	})
	mux.HandleFunc("/rpc", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			w.WriteHeader(http.StatusNoContent)
			return
		} else if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req struct {
			JSONRPC string   `json:"jsonrpc"`
			Method  string   `json:"method"`
			Params  []string `json:"params"`
			ID      int      `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		client, err := rpc.Dial("tcp", rpcAddr)
		if err != nil {
			http.Error(w, "RPC dial error", http.StatusInternalServerError)
			return
		}
		defer client.Close()

		var result string
		if err := client.Call(req.Method, req.Params, &result); err != nil {
			http.Error(w, "RPC error: "+err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Write([]byte(result))
	})

	n.webServer = &http.Server{Addr: addr, Handler: mux}
	log.Info(debugWeb, "web server listening", "addr", addr)

	n.done.Add(1)
	go func() {
		defer n.done.Done()
		if err := n.webServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(debugWeb, "web server failed", "err", err)
		}
	}()
}

func (n *Node) stopWeb() {
	n.hub.cancel()
	if n.webServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	n.webServer.Shutdown(ctx)
}
