package net

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/cloudflare/cfssl/log"
	"github.com/confirmledger/chain"
	"github.com/confirmledger/confirm"
	"github.com/confirmledger/meta"
	"github.com/confirmledger/stake"
	"github.com/confirmledger/wallet"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type Options struct {
	Chain    *chain.Blockchain
	Workflow *confirm.Workflow
	Keys     wallet.KeyStore
	Stakes   *stake.Selector
	//applied when a transfer names no fee
	DefaultFee   decimal.Decimal
	MiningReward decimal.Decimal
}

type Server struct {
	bc     *chain.Blockchain
	wf     *confirm.Workflow
	keys   wallet.KeyStore
	stakes *stake.Selector
	fee    decimal.Decimal
	reward decimal.Decimal
}

func NewServer(opts Options) *Server {
	return &Server{
		bc:     opts.Chain,
		wf:     opts.Workflow,
		keys:   opts.Keys,
		stakes: opts.Stakes,
		fee:    opts.DefaultFee,
		reward: opts.MiningReward,
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), accessLog())

	//钱包
	r.POST("/wallet", s.createWallet)
	r.GET("/balance/:address", s.balance)
	r.GET("/history/:address", s.history)
	//交易
	r.POST("/transactions", s.submit)
	r.GET("/transactions/:id", s.transaction)
	//通知
	r.GET("/inbox/:address", s.inbox)
	r.GET("/inbox/:address/count", s.inboxCount)
	r.GET("/notifications/:id", s.notification)
	r.POST("/notifications/:id/read", s.markRead)
	r.POST("/notifications/:id/respond", s.respond)
	//链
	r.POST("/mine", s.mine)
	r.GET("/chain", s.blocks)
	r.GET("/chain/validate", s.validate)
	r.GET("/stats", s.stats)
	//stake
	r.POST("/stake", s.addStake)
	r.DELETE("/stake/:address", s.removeStake)
	r.GET("/stake/validators", s.validators)
	r.GET("/stake/select", s.selectValidator)
	return r
}

// HttpListen serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) HttpListen(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}
	errc := make(chan error, 1)
	go func() {
		log.Info("http listening on ", addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return errors.Wrap(err, "http listen")
	case <-ctx.Done():
	}
	shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdown)
}

func accessLog() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		log.Debugf("%s %s %d %s", ctx.Request.Method, ctx.Request.URL.Path, ctx.Writer.Status(), time.Since(start))
	}
}

//错误码映射
func statusOf(err error) int {
	switch {
	case errors.Is(err, meta.ErrNotificationNotFound), errors.Is(err, meta.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, meta.ErrIdentityMismatch):
		return http.StatusUnauthorized
	case errors.Is(err, meta.ErrNotificationExpired):
		return http.StatusGone
	case errors.Is(err, meta.ErrAlreadyResponded), errors.Is(err, meta.ErrDuplicateTransaction), errors.Is(err, meta.ErrStaleBlock):
		return http.StatusConflict
	case errors.Is(err, meta.ErrInsufficientFunds), errors.Is(err, meta.ErrStakeTooLow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, meta.ErrInvalidAmount), errors.Is(err, meta.ErrInvalidAddress), errors.Is(err, meta.ErrInvalidKey),
		errors.Is(err, meta.ErrInvalidSignature), errors.Is(err, meta.ErrInvalidDecision), errors.Is(err, meta.ErrUnknownAddress),
		errors.Is(err, meta.ErrStaleTransaction):
		return http.StatusBadRequest
	case errors.Is(err, meta.ErrMiningCancelled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func fail(ctx *gin.Context, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		log.Error(ctx.Request.URL.Path, ": ", err)
	}
	ctx.JSON(code, gin.H{"success": false, "error": err.Error()})
}

func badRequest(ctx *gin.Context, err error) {
	ctx.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
}

func (s *Server) createWallet(ctx *gin.Context) {
	id, err := wallet.GenerateKeyPair()
	if err != nil {
		fail(ctx, err)
		return
	}
	if _, err := s.keys.RegisterPublicKey(id.PublicKey); err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"success":     true,
		"address":     id.Address,
		"public_key":  id.PublicKeyHex(),
		"private_key": id.PrivateKeyHex(),
	})
}

func (s *Server) balance(ctx *gin.Context) {
	addr := ctx.Param("address")
	l := s.bc.Ledger()
	bal, err := l.BalanceOf(addr)
	if err != nil {
		fail(ctx, err)
		return
	}
	avail, err := l.Available(addr)
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"address":   addr,
		"balance":   bal,
		"available": avail,
		"held":      l.Held(addr),
	})
}

func (s *Server) history(ctx *gin.Context) {
	txs := s.bc.History(ctx.Param("address"))
	ctx.JSON(http.StatusOK, gin.H{"success": true, "transactions": txs, "total": len(txs)})
}

type submitRequest struct {
	PrivateKey  string            `json:"private_key"`
	To          string            `json:"to_address"`
	Amount      decimal.Decimal   `json:"amount"`
	Fee         *decimal.Decimal  `json:"fee"`
	Data        string            `json:"data"`
	Message     string            `json:"message"`
	Transaction *meta.Transaction `json:"transaction"`
}

// submit accepts either a pre-signed transaction or a private key to sign with.
func (s *Server) submit(ctx *gin.Context) {
	var req submitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	tx := req.Transaction
	if tx == nil {
		id, err := wallet.ImportPrivateKeyHex(req.PrivateKey)
		if err != nil {
			fail(ctx, err)
			return
		}
		if _, ok := s.keys.PublicKey(id.Address); !ok {
			if _, err := s.keys.RegisterPublicKey(id.PublicKey); err != nil {
				fail(ctx, err)
				return
			}
		}
		fee := s.fee
		if req.Fee != nil {
			fee = *req.Fee
		}
		tx, err = chain.NewTransaction(id.Address, req.To, req.Amount, fee, req.Data)
		if err != nil {
			fail(ctx, err)
			return
		}
		if err := chain.Sign(tx, id); err != nil {
			fail(ctx, err)
			return
		}
	}
	n, err := s.wf.Submit(ctx.Request.Context(), tx, req.Message)
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{
		"success":        true,
		"transaction_id": tx.TransactionID,
		"notification":   n,
	})
}

func (s *Server) transaction(ctx *gin.Context) {
	tx, err := s.wf.Transaction(ctx.Param("id"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "transaction": tx})
}

func (s *Server) inbox(ctx *gin.Context) {
	addr := ctx.Param("address")
	ns := s.wf.ListForRecipient(addr, meta.NotificationStatus(ctx.Query("status")))
	ctx.JSON(http.StatusOK, gin.H{
		"success":       true,
		"notifications": ns,
		"total":         len(ns),
		"pending":       s.wf.PendingCount(addr),
	})
}

func (s *Server) inboxCount(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "pending": s.wf.PendingCount(ctx.Param("address"))})
}

func (s *Server) notification(ctx *gin.Context) {
	n, err := s.wf.Get(ctx.Param("id"))
	if err != nil {
		fail(ctx, err)
		return
	}
	resp := gin.H{"success": true, "notification": n}
	if c, ok := s.wf.Confirmation(n.ID); ok {
		resp["confirmation"] = c
	}
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) markRead(ctx *gin.Context) {
	n, err := s.wf.MarkRead(ctx.Param("id"))
	if err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "notification": n})
}

type respondRequest struct {
	PrivateKey string        `json:"private_key" binding:"required"`
	Action     meta.Decision `json:"action" binding:"required"`
	Message    string        `json:"message"`
}

func (s *Server) respond(ctx *gin.Context) {
	var req respondRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	id, err := wallet.ImportPrivateKeyHex(req.PrivateKey)
	if err != nil {
		fail(ctx, err)
		return
	}
	c, err := s.wf.Respond(ctx.Request.Context(), ctx.Param("id"), req.Action, id, req.Message)
	if c == nil {
		fail(ctx, err)
		return
	}
	tx, txErr := s.wf.Transaction(c.TransactionID)
	if txErr != nil {
		fail(ctx, txErr)
		return
	}
	resp := gin.H{
		"success":            true,
		"action":             c.Decision,
		"confirmation":       c,
		"transaction_status": tx.Status,
	}
	if err != nil {
		//decision recorded, settlement retried by the next mining pass
		resp["settlement_error"] = err.Error()
		ctx.JSON(http.StatusAccepted, resp)
		return
	}
	if tx.BlockIndex >= 0 {
		resp["block_index"] = tx.BlockIndex
		if b, ok := s.bc.Block(tx.BlockIndex); ok {
			resp["block_hash"] = b.Hash
		}
	}
	ctx.JSON(http.StatusOK, resp)
}

type mineRequest struct {
	Miner string `json:"miner_address" binding:"required"`
}

func (s *Server) mine(ctx *gin.Context) {
	var req mineRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	block, err := s.wf.SettlePending(ctx.Request.Context(), req.Miner)
	if err != nil {
		fail(ctx, err)
		return
	}
	if block == nil {
		ctx.JSON(http.StatusOK, gin.H{"success": true, "message": "nothing to mine"})
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"success": true, "block": block})
}

func (s *Server) blocks(ctx *gin.Context) {
	blocks := s.bc.Blocks()
	ctx.JSON(http.StatusOK, gin.H{"success": true, "length": len(blocks), "chain": blocks})
}

func (s *Server) validate(ctx *gin.Context) {
	audit, _ := strconv.ParseBool(ctx.DefaultQuery("audit", "false"))
	err := s.bc.Check(chain.ValidateOptions{Audit: audit, Registry: s.keys})
	resp := gin.H{"success": true, "valid": err == nil, "audit": audit}
	if err != nil {
		log.Warning("chain validation failed: ", err)
		resp["error"] = err.Error()
	}
	ctx.JSON(http.StatusOK, resp)
}

func (s *Server) stats(ctx *gin.Context) {
	st := s.bc.Stats()
	st.PendingSettlements = s.wf.PendingSettlements()
	ctx.JSON(http.StatusOK, gin.H{"success": true, "stats": st})
}

type stakeRequest struct {
	Address string          `json:"address" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

func (s *Server) addStake(ctx *gin.Context) {
	var req stakeRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	if !s.bc.Ledger().CanAfford(req.Address, req.Amount, decimal.Zero) {
		fail(ctx, errors.Wrapf(meta.ErrInsufficientFunds, "%s cannot stake %s", req.Address, req.Amount))
		return
	}
	if err := s.stakes.AddValidator(req.Address, req.Amount); err != nil {
		fail(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, gin.H{"success": true, "validators": s.stakes.Validators()})
}

func (s *Server) removeStake(ctx *gin.Context) {
	if !s.stakes.RemoveValidator(ctx.Param("address")) {
		fail(ctx, errors.Wrap(meta.ErrUnknownAddress, ctx.Param("address")))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) validators(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "validators": s.stakes.Validators()})
}

func (s *Server) selectValidator(ctx *gin.Context) {
	seed := ctx.Query("seed")
	if seed == "" {
		seed = s.bc.Head().Hash
	}
	addr, ok := s.stakes.Select(seed)
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"success": false, "error": "no validators"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"seed":      seed,
		"validator": addr,
		"reward":    s.stakes.Reward(addr, s.reward),
	})
}
