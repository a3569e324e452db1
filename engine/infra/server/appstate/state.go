package appstate

import (
	"context"
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/compozy/notebook/engine/knowledge"
	"github.com/compozy/notebook/engine/knowledge/pipeline"
)

type contextKey string

const (
	stateKey contextKey = "app_state"
)

// IngestRunner indexes one staged upload.
type IngestRunner interface {
	Run(ctx context.Context, doc knowledge.UploadedDocument) *pipeline.IngestResult
}

// QueryRunner answers one chat query.
type QueryRunner interface {
	Run(ctx context.Context, query string) *pipeline.QueryResult
}

type BaseDeps struct {
	Ingest IngestRunner
	Query  QueryRunner
}

func NewBaseDeps(ingest IngestRunner, query QueryRunner) BaseDeps {
	return BaseDeps{Ingest: ingest, Query: query}
}

// State is shared by every request handler.
type State struct {
	BaseDeps
	UploadDir      string
	MaxUploadBytes int64
	Version        string
}

func NewState(deps BaseDeps, uploadDir string, maxUploadBytes int64) (*State, error) {
	if deps.Ingest == nil {
		return nil, errors.New("ingest pipeline is required")
	}
	if deps.Query == nil {
		return nil, errors.New("query pipeline is required")
	}
	if uploadDir == "" {
		return nil, errors.New("upload directory is required")
	}
	return &State{
		BaseDeps:       deps,
		UploadDir:      uploadDir,
		MaxUploadBytes: maxUploadBytes,
	}, nil
}

func WithState(ctx context.Context, state *State) context.Context {
	return context.WithValue(ctx, stateKey, state)
}

func GetState(ctx context.Context) (*State, error) {
	state, ok := ctx.Value(stateKey).(*State)
	if !ok || state == nil {
		return nil, fmt.Errorf("app state not found in context")
	}
	return state, nil
}

// StateMiddleware attaches state to every request context.
func StateMiddleware(state *State) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithState(c.Request.Context(), state))
		c.Next()
	}
}
