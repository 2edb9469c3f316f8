package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/athenalms/portal/backend"
	"github.com/athenalms/portal/core/credits"
)

type (
	creditsApi struct {
		mgr        *credits.Manager
		validate   *validator.Validate
		translator ut.Translator
	}

	TopUpRequest struct {
		Amount float64 `json:"amount" validate:"required,gt=0"`
	}

	UnlockContentRequest struct {
		UnlockType   string  `json:"unlock_type" validate:"required,unlocktype"`
		UnlockID     string  `json:"unlock_id" validate:"required"`
		CreditsSpent float64 `json:"credits_spent" validate:"gte=0"`
	}

	SpendRequest struct {
		Amount   float64                `json:"amount" validate:"required,gt=0"`
		Metadata map[string]interface{} `json:"metadata"`
	}

	CreditsResponse struct {
		credits.Snapshot
		Analytics credits.Analytics `json:"analytics"`
	}
)

func registerCreditsAPI(g *echo.Group, opts *Options) {
	api := creditsApi{
		mgr:        opts.CreditsMgr,
		validate:   opts.Validate,
		translator: opts.Translator,
	}

	cg := g.Group("/credits")
	cg.GET("", api.retrieve)
	cg.POST("/topup", api.topUp)
	cg.POST("/spend", api.spend)
	cg.POST("/unlock", api.unlock)

	mg := g.Group("/membership")
	mg.POST("/purchase", api.purchaseWithMembership)
	mg.POST("/renew", api.renew)
	mg.POST("/cancel", api.cancel)
}

// Handlers

func (api *creditsApi) retrieve(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) topUp(ctx echo.Context) error {
	var data TopUpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TopUpRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	if err := api.mgr.AddCredits(ctx.Request().Context(), data.Amount); err != nil {
		return errors.Wrap(err, "adding credits")
	}
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) spend(ctx echo.Context) error {
	var data SpendRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to SpendRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	api.mgr.SpendCredits(data.Amount, data.Metadata)
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) unlock(ctx echo.Context) error {
	var data UnlockContentRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UnlockContentRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	err := api.mgr.UnlockContent(ctx.Request().Context(), data.UnlockType, data.UnlockID, data.CreditsSpent)
	if err != nil {
		if errors.Cause(err) == credits.ErrNotAuthenticated {
			return errUnauthorized
		}
		// surface the backend's verdict (eg. insufficient credits) as-is
		if apiErr, ok := errors.Cause(err).(*backend.APIError); ok {
			return echo.NewHTTPError(apiErr.StatusCode, apiErr.Message)
		}
		return errors.Wrap(err, "unlocking content")
	}
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) purchaseWithMembership(ctx echo.Context) error {
	var data TopUpRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TopUpRequest")
	}
	if err := api.validate.Struct(&data); err != nil {
		return err
	}

	if err := api.mgr.PurchaseCreditsWithMembership(ctx.Request().Context(), data.Amount); err != nil {
		return errors.Wrap(err, "purchasing credits with membership")
	}
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) renew(ctx echo.Context) error {
	if err := api.mgr.RenewMembership(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "renewing membership")
	}
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) cancel(ctx echo.Context) error {
	if err := api.mgr.CancelMembership(ctx.Request().Context()); err != nil {
		return errors.Wrap(err, "cancelling membership")
	}
	return ctx.JSON(http.StatusOK, api.response())
}

func (api *creditsApi) response() CreditsResponse {
	return CreditsResponse{
		Snapshot:  api.mgr.Snapshot(),
		Analytics: api.mgr.Analytics(),
	}
}
