package service

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mosaicnetworks/dagger/src/common"
	"github.com/mosaicnetworks/dagger/src/ledger"
	"github.com/mosaicnetworks/dagger/src/node"
	"github.com/sirupsen/logrus"
)

// defaultPageSize is the number of transactions returned by /transactions when
// no limit is given.
const defaultPageSize = 100

// Service exposes the Node's query API over HTTP.
type Service struct {
	bindAddress string
	node        *node.Node
	router      *mux.Router
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, n *node.Node, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		node:        n,
		router:      mux.NewRouter(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering dagger API handlers")
	s.router.HandleFunc("/stats", s.makeHandler(s.GetStats)).Methods("GET")
	s.router.HandleFunc("/tips", s.makeHandler(s.GetTips)).Methods("GET")
	s.router.HandleFunc("/tx/{hash}", s.makeHandler(s.GetTransaction)).Methods("GET")
	s.router.HandleFunc("/tx", s.makeHandler(s.SubmitTransaction)).Methods("POST")
	s.router.HandleFunc("/confirmed/{hash}", s.makeHandler(s.GetConfirmed)).Methods("GET")
	s.router.HandleFunc("/balance/{pubkey}", s.makeHandler(s.GetBalance)).Methods("GET")
	s.router.HandleFunc("/transactions", s.makeHandler(s.GetTransactions)).Methods("GET")
	s.router.HandleFunc("/pending", s.makeHandler(s.GetPending)).Methods("GET")
	s.router.HandleFunc("/accounts", s.makeHandler(s.GetAccounts)).Methods("GET")
	s.router.HandleFunc("/peers", s.makeHandler(s.GetPeers)).Methods("GET")
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the router, for embedding the API in another server.
func (s *Service) Handler() http.Handler {
	return s.router
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving dagger API")

	err := http.ListenAndServe(s.bindAddress, s.router)
	if err != nil {
		s.logger.Error(err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetStats())
}

// GetTips ...
func (s *Service) GetTips(w http.ResponseWriter, r *http.Request) {
	tips, err := s.node.Tips()
	if err != nil {
		s.logger.WithError(err).Error("Retrieving tips")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, tips)
}

// TransactionInfo is a stored transaction with its confidence.
type TransactionInfo struct {
	Transaction *ledger.JSONTransaction `json:"transaction"`
	Weight      uint64                  `json:"weight"`
	Confirmed   bool                    `json:"confirmed"`
	Conflict    *ledger.ConflictSet     `json:"conflict,omitempty"`
}

// GetTransaction ...
func (s *Service) GetTransaction(w http.ResponseWriter, r *http.Request) {
	h, ok := s.hashParam(w, r)
	if !ok {
		return
	}

	tx, err := s.node.GetTransaction(h)
	if err != nil {
		s.storeError(w, err, "Retrieving transaction")
		return
	}

	jsonTx, err := tx.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	info := TransactionInfo{Transaction: jsonTx}

	if info.Weight, err = s.node.Weight(h); err != nil {
		s.storeError(w, err, "Retrieving weight")
		return
	}

	if info.Confirmed, err = s.node.IsConfirmed(h); err != nil {
		s.storeError(w, err, "Checking confirmation")
		return
	}

	if set, ok := s.node.Conflict(h); ok && set.IsConflict() {
		info.Conflict = set
	}

	writeJSON(w, http.StatusOK, info)
}

// GetConfirmed ...
func (s *Service) GetConfirmed(w http.ResponseWriter, r *http.Request) {
	h, ok := s.hashParam(w, r)
	if !ok {
		return
	}

	confirmed, err := s.node.IsConfirmed(h)
	if err != nil {
		s.storeError(w, err, "Checking confirmation")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hash":      h,
		"confirmed": confirmed,
		"pending":   s.node.IsPending(h),
	})
}

// GetBalance ...
func (s *Service) GetBalance(w http.ResponseWriter, r *http.Request) {
	param := mux.Vars(r)["pubkey"]

	pub, err := common.DecodeFromString(param)
	if err != nil {
		http.Error(w, "bad public key: "+err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"account": common.EncodeToString(pub),
		"balance": s.node.BalanceOf(pub),
		"nonce":   s.node.NonceOf(pub),
	})
}

// GetTransactions lists transactions in insertion order. Query parameters
// offset and limit page through the list.
func (s *Service) GetTransactions(w http.ResponseWriter, r *http.Request) {
	offset, err := intParam(r, "offset", 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit, err := intParam(r, "limit", defaultPageSize)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	txs, err := s.node.Transactions(offset, limit)
	if err != nil {
		s.storeError(w, err, "Listing transactions")
		return
	}

	writeTransactions(w, txs)
}

// GetPending lists the transactions held until their parents arrive.
func (s *Service) GetPending(w http.ResponseWriter, r *http.Request) {
	writeTransactions(w, s.node.PendingTransactions())
}

func writeTransactions(w http.ResponseWriter, txs []*ledger.Transaction) {
	res := make([]*ledger.JSONTransaction, 0, len(txs))
	for _, tx := range txs {
		j, err := tx.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		res = append(res, j)
	}

	writeJSON(w, http.StatusOK, res)
}

// GetAccounts ...
func (s *Service) GetAccounts(w http.ResponseWriter, r *http.Request) {
	type jsonAccount struct {
		Account string `json:"account"`
		Balance uint64 `json:"balance"`
		Nonce   uint64 `json:"nonce"`
	}

	accounts := s.node.Accounts()
	res := make([]jsonAccount, len(accounts))
	for i, a := range accounts {
		res[i] = jsonAccount{
			Account: common.EncodeToString(a.PubKey),
			Balance: a.Balance,
			Nonce:   a.LastNonce,
		}
	}

	writeJSON(w, http.StatusOK, res)
}

// GetPeers ...
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.GetPeers())
}

// SubmitResult is the response to POST /tx.
type SubmitResult struct {
	Hash  ledger.Hash `json:"hash"`
	Error string      `json:"error,omitempty"`
	Kind  string      `json:"kind,omitempty"`
}

// SubmitTransaction takes a signed transaction in its JSON form. A
// transaction held for missing parents is answered with 202 and the
// MissingParent error; a rejected one with 422.
func (s *Service) SubmitTransaction(w http.ResponseWriter, r *http.Request) {
	var jsonTx ledger.JSONTransaction
	if err := json.NewDecoder(r.Body).Decode(&jsonTx); err != nil {
		http.Error(w, "decoding transaction: "+err.Error(), http.StatusBadRequest)
		return
	}

	tx, err := jsonTx.Transaction()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h, err := s.node.Submit(tx)
	res := SubmitResult{Hash: h}

	switch vErr := err.(type) {
	case nil:
		writeJSON(w, http.StatusOK, res)
	case *ledger.ValidationError:
		res.Error = vErr.Error()
		res.Kind = vErr.Kind.String()
		code := http.StatusUnprocessableEntity
		if vErr.Kind == ledger.MissingParent {
			code = http.StatusAccepted
		}
		writeJSON(w, code, res)
	default:
		if err == node.ErrShutdown {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		s.logger.WithError(err).Error("Submitting transaction")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Service) hashParam(w http.ResponseWriter, r *http.Request) (ledger.Hash, bool) {
	param := mux.Vars(r)["hash"]

	h, err := ledger.HashFromString(param)
	if err != nil {
		http.Error(w, "bad hash: "+err.Error(), http.StatusBadRequest)
		return h, false
	}

	return h, true
}

func (s *Service) storeError(w http.ResponseWriter, err error, msg string) {
	if common.IsStore(err, common.KeyNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	s.logger.WithError(err).Error(msg)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
