package live

import (
	"context"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/yanun0323/logs"

	"tradecore/internal/book"
	"tradecore/internal/model"
	"tradecore/internal/obs"
)

type VenueStatus struct {
	Venue     model.Venue `json:"venue"`
	Connected bool        `json:"connected"`
	Halted    string      `json:"halted,omitempty"`
}

type BookStatus struct {
	InstrumentID model.InstrumentID `json:"instrument_id"`
	State        string             `json:"state"`
	Sequence     uint64             `json:"sequence"`
	UpdateCount  uint64             `json:"update_count"`
}

// Status is the body of GET /status.
type Status struct {
	TraderID model.TraderID `json:"trader_id"`
	State    string         `json:"state"`
	Venues   []VenueStatus  `json:"venues"`
	Books    []BookStatus   `json:"books"`
	Inbox    int            `json:"inbox"`
	Metrics  obs.Snapshot   `json:"metrics"`
}

// Status reads the node from any goroutine.
func (n *Node) Status() Status {
	st := Status{
		TraderID: n.cfg.TraderID,
		State:    n.State().String(),
		Inbox:    n.runner.Inbox().Len(),
		Metrics:  n.metrics.Snapshot(),
	}

	venues := make(map[model.Venue]*VenueStatus)
	for venue, c := range n.data {
		venues[venue] = &VenueStatus{Venue: venue, Connected: c.Connected()}
	}
	if n.gateway != nil {
		for _, venue := range n.gateway.Venues() {
			vs := venues[venue]
			if vs == nil {
				vs = &VenueStatus{Venue: venue}
				venues[venue] = vs
			}
			if err := n.gateway.Halted(venue); err != nil {
				vs.Halted = err.Error()
			}
		}
	}
	for _, vs := range venues {
		st.Venues = append(st.Venues, *vs)
	}
	sort.Slice(st.Venues, func(i, j int) bool { return st.Venues[i].Venue < st.Venues[j].Venue })

	for _, id := range n.books.Instruments() {
		v, ok := n.books.View(id)
		if !ok {
			continue
		}
		st.Books = append(st.Books, BookStatus{
			InstrumentID: id,
			State:        v.State.String(),
			Sequence:     v.Sequence,
			UpdateCount:  v.UpdateCount,
		})
	}
	return st
}

// StatusServer serves read-only node state over HTTP.
type StatusServer struct {
	addr   string
	node   *Node
	router *mux.Router
}

func NewStatusServer(addr string, node *Node) *StatusServer {
	s := &StatusServer{addr: addr, node: node, router: mux.NewRouter()}
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/books/{instrument}", s.handleBook).Methods(http.MethodGet)
	return s
}

func (s *StatusServer) Handler() http.Handler { return s.router }

// Run serves until ctx is done.
func (s *StatusServer) Run(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logs.Infof("live: status server listening on %s", lis.Addr())
	if err := srv.Serve(lis); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *StatusServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, s.node.Status())
}

func (s *StatusServer) handleBook(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseInstrumentID(mux.Vars(r)["instrument"])
	if err != nil {
		respond(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	view, ok := s.node.books.View(id)
	if !ok {
		respond(w, http.StatusNotFound, errorBody{Error: "no book for " + id.String()})
		return
	}
	respond(w, http.StatusOK, bookBody{View: view, State: view.State.String()})
}

type errorBody struct {
	Error string `json:"error"`
}

// bookBody spells the state out next to the view.
type bookBody struct {
	book.View
	State string `json:"state"`
}

func respond(w http.ResponseWriter, status int, body any) {
	data, err := sonic.Marshal(body)
	if err != nil {
		logs.Errorf("live: encode status body, err: %+v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
