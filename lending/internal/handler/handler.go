package handler

import (
	"net/http"
	"strconv"
	"time"

	md "github.com/astlibr/lending-service/pkg/middleware"

	"github.com/astlibr/lending-service/lending/internal/errs"
	"github.com/astlibr/lending-service/lending/internal/model"
	"github.com/astlibr/lending-service/pkg/auth"
	cb "github.com/astlibr/lending-service/pkg/circuit_breaker"
	"github.com/astlibr/lending-service/pkg/kafka"
	"github.com/astlibr/lending-service/pkg/validate"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Handler struct {
	lendingSvc LendingService
	enqueuer   Enqueuer
	eventsCB   cb.CircuitBreaker
	log        *zap.Logger
}

func New(lendingSvc LendingService, enqueuer Enqueuer, log *zap.Logger) *Handler {
	h := &Handler{
		lendingSvc: lendingSvc,
		enqueuer:   enqueuer,
		eventsCB:   cb.New(20, 30*time.Second, 0.5, 5),
		log:        log,
	}
	return h
}

func (h *Handler) NewRouter() *echo.Echo {
	e := echo.New()
	const (
		baseRPS = 10
		apiRPS  = 100
	)
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		StackSize: 4 << 10, // 4 KB
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodOptions, http.MethodHead, http.MethodPut, http.MethodPatch, http.MethodPost, http.MethodDelete},
		AllowCredentials: true,
	}))

	base := e.Group("", md.NewRateLimiter(baseRPS))
	base.GET("/manage/health", h.Health)

	e.Validator = validate.NewCustomValidator()
	api := e.Group("/api/v1",
		middleware.RequestLoggerWithConfig(md.RequestLoggerConfig()),
		middleware.RequestID(),
		md.NewRateLimiter(apiRPS),
		auth.Middleware,
	)

	api.POST("/books", h.CreateBook)
	api.GET("/books", h.GetBooks)
	api.GET("/books/:bookUid", h.GetBook)

	api.POST("/members", h.CreateMember)
	api.GET("/members/:name", h.GetMember)

	api.POST("/transactions", h.BorrowBook)
	api.GET("/transactions", h.GetTransactions)
	api.GET("/transactions/:transactionUid", h.GetTransaction)
	api.POST("/transactions/:transactionUid/return", h.ReturnBook)
	api.POST("/transactions/:transactionUid/renew", h.RenewBook)

	return e
}

func (h *Handler) Health(c echo.Context) error {
	return c.String(http.StatusOK, "OK")
}

// httpStatus maps the closed business-error set onto transport codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, errs.ErrBookNotFound),
		errors.Is(err, errs.ErrMemberNotFound),
		errors.Is(err, errs.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, errs.ErrBookUnavailable),
		errors.Is(err, errs.ErrLimitReached),
		errors.Is(err, errs.ErrAlreadyBorrowed),
		errors.Is(err, errs.ErrAlreadyReturned),
		errors.Is(err, errs.ErrRenewalLimitReached),
		errors.Is(err, errs.ErrOverdue),
		errors.Is(err, errs.ErrNotRenewable):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) BorrowBook(c echo.Context) error {
	var req model.BorrowRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	userName, ok := auth.UserName(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrUserName.Error())
	}
	req.UserName = userName
	if err := c.Validate(req); err != nil {
		return err
	}

	resp, err := h.lendingSvc.BorrowBook(ctx, req)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	h.publishEvent(model.EventBorrowed, resp.Transaction)

	return c.JSON(http.StatusCreated, resp)
}

func (h *Handler) ReturnBook(c echo.Context) error {
	ctx := c.Request().Context()
	userName, ok := auth.UserName(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrUserName.Error())
	}
	transactionUid := c.Param("transactionUid")
	if transactionUid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "transactionUid is empty")
	}
	var req model.ReturnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}

	resp, err := h.lendingSvc.ReturnBook(ctx, transactionUid, userName, req)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	h.publishEvent(model.EventReturned, resp.Transaction)

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) RenewBook(c echo.Context) error {
	ctx := c.Request().Context()
	userName, ok := auth.UserName(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrUserName.Error())
	}
	transactionUid := c.Param("transactionUid")
	if transactionUid == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "transactionUid is empty")
	}

	resp, err := h.lendingSvc.RenewBook(ctx, transactionUid, userName)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	h.publishEvent(model.EventRenewed, resp.Transaction)

	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTransaction(c echo.Context) error {
	ctx := c.Request().Context()
	userName, ok := auth.UserName(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrUserName.Error())
	}
	resp, err := h.lendingSvc.GetTransaction(ctx, c.Param("transactionUid"), userName)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetTransactions(c echo.Context) error {
	ctx := c.Request().Context()
	userName, ok := auth.UserName(ctx)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, errs.ErrUserName.Error())
	}
	page, size, err := pageSize(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	status := model.Status(c.QueryParam("status"))
	switch status {
	case "", model.StatusBorrowed, model.StatusOverdue, model.StatusReturned:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status")
	}

	resp, err := h.lendingSvc.GetTransactions(ctx, userName, status, page, size)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) CreateBook(c echo.Context) error {
	ctx := c.Request().Context()
	if !auth.IsAdmin(ctx) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	var req model.CreateBookRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	book, err := h.lendingSvc.CreateBook(ctx, req)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, book)
}

func (h *Handler) GetBook(c echo.Context) error {
	book, err := h.lendingSvc.GetBook(c.Request().Context(), c.Param("bookUid"))
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, book)
}

func (h *Handler) GetBooks(c echo.Context) error {
	page, size, err := pageSize(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	showAll, _ := strconv.ParseBool(c.QueryParam("showAll"))

	list, err := h.lendingSvc.ListBooks(c.Request().Context(), showAll, page, size)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) CreateMember(c echo.Context) error {
	ctx := c.Request().Context()
	if !auth.IsAdmin(ctx) {
		return echo.NewHTTPError(http.StatusForbidden, errs.ErrForbidden.Error())
	}
	var req model.CreateMemberRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := c.Validate(req); err != nil {
		return err
	}
	member, err := h.lendingSvc.CreateMember(ctx, req)
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusCreated, member)
}

func (h *Handler) GetMember(c echo.Context) error {
	member, err := h.lendingSvc.GetMember(c.Request().Context(), c.Param("name"))
	if err != nil {
		return echo.NewHTTPError(httpStatus(err), err.Error())
	}
	return c.JSON(http.StatusOK, member)
}

func pageSize(c echo.Context) (int, int, error) {
	var page, size int
	var err error
	if p := c.QueryParam("page"); p != "" {
		if page, err = strconv.Atoi(p); err != nil || page < 0 {
			return 0, 0, errors.New("invalid page")
		}
	}
	if s := c.QueryParam("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil || size < 0 {
			return 0, 0, errors.New("invalid size")
		}
	}
	return page, size, nil
}

// publishEvent pushes a lifecycle event to the reporting feed. Publishing
// is best effort: an open breaker or a broker error only logs a warning.
func (h *Handler) publishEvent(event string, tr model.Transaction) {
	if h.enqueuer == nil {
		return
	}
	msg := model.TransactionEvent{
		Event:          event,
		TransactionUid: tr.TransactionUid,
		UserName:       tr.UserName,
		BookUid:        tr.BookUid,
		Status:         tr.Status,
		LateFee:        tr.LateFee,
		OccurredAt:     time.Now().UTC(),
	}
	if err := h.eventsCB.Call(func() error {
		return h.enqueuer.Enqueue(kafka.EventsTopic, msg)
	}); err != nil {
		h.log.Warn("publish event", zap.String("event", event), zap.Error(err))
	}
}
