package aisdk

import (
	"context"
)

// LanguageModel is a model a caller can invoke either in one shot or as a stream.
type LanguageModel interface {
	ModelID() string
	DoGenerate(ctx context.Context, params *CallOptions) (*GenerateResult, error)
	DoStream(ctx context.Context, params *CallOptions) (*StreamResult, error)
}

// GenerateFunc performs the wrapped non-streaming call with already transformed params.
type GenerateFunc func(ctx context.Context) (*GenerateResult, error)

// StreamFunc performs the wrapped streaming call with already transformed params.
type StreamFunc func(ctx context.Context) (*StreamResult, error)

// GenerateCall is handed to Middleware.WrapGenerate.
type GenerateCall struct {
	Model      LanguageModel
	Params     *CallOptions
	DoGenerate GenerateFunc
}

// StreamCall is handed to Middleware.WrapStream.
type StreamCall struct {
	Model    LanguageModel
	Params   *CallOptions
	DoStream StreamFunc
}

// Middleware intercepts calls to a LanguageModel.
type Middleware interface {
	TransformParams(ctx context.Context, params *CallOptions) (*CallOptions, error)
	WrapGenerate(ctx context.Context, call GenerateCall) (*GenerateResult, error)
	WrapStream(ctx context.Context, call StreamCall) (*StreamResult, error)
}

// WrapLanguageModel returns a model whose calls pass through the given middlewares.
// The first middleware is the outermost one.
func WrapLanguageModel(model LanguageModel, middlewares ...Middleware) LanguageModel {
	if len(middlewares) == 0 {
		return model
	}
	return &wrappedModel{model: model, middlewares: middlewares}
}

type wrappedModel struct {
	model       LanguageModel
	middlewares []Middleware
}

var _ LanguageModel = (*wrappedModel)(nil)

func (w *wrappedModel) ModelID() string {
	return w.model.ModelID()
}

func (w *wrappedModel) transform(ctx context.Context, params *CallOptions) (*CallOptions, error) {
	var err error
	for _, mw := range w.middlewares {
		params, err = mw.TransformParams(ctx, params)
		if err != nil {
			return nil, err
		}
	}
	return params, nil
}

func (w *wrappedModel) DoGenerate(ctx context.Context, params *CallOptions) (*GenerateResult, error) {
	params, err := w.transform(ctx, params)
	if err != nil {
		return nil, err
	}
	next := func(ctx context.Context) (*GenerateResult, error) {
		return w.model.DoGenerate(ctx, params)
	}
	for i := len(w.middlewares) - 1; i >= 0; i-- {
		mw, inner := w.middlewares[i], next
		next = func(ctx context.Context) (*GenerateResult, error) {
			return mw.WrapGenerate(ctx, GenerateCall{Model: w.model, Params: params, DoGenerate: inner})
		}
	}
	return next(ctx)
}

func (w *wrappedModel) DoStream(ctx context.Context, params *CallOptions) (*StreamResult, error) {
	params, err := w.transform(ctx, params)
	if err != nil {
		return nil, err
	}
	next := func(ctx context.Context) (*StreamResult, error) {
		return w.model.DoStream(ctx, params)
	}
	for i := len(w.middlewares) - 1; i >= 0; i-- {
		mw, inner := w.middlewares[i], next
		next = func(ctx context.Context) (*StreamResult, error) {
			return mw.WrapStream(ctx, StreamCall{Model: w.model, Params: params, DoStream: inner})
		}
	}
	return next(ctx)
}
