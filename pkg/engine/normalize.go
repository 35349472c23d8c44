package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/insightlabs/marketscope/pkg/models"
	"github.com/insightlabs/marketscope/pkg/provider"
)

// Normalize coerces an executor's raw return into a ComponentResult. This
// is the only place that ever inspects result shape:
//
//   - document (string-keyed map)  → ok, data as-is
//   - sequence                     → ok, data {items: seq}, total_items set
//   - scalar                       → error, stringified, converted flag set
//   - nil                          → empty_response error
func Normalize(component string, raw any) models.ComponentResult {
	if raw == nil {
		return models.ErrorResult(component, string(provider.KindEmptyResponse), "executor returned nothing")
	}

	switch v := raw.(type) {
	case map[string]any:
		return models.ComponentResult{Component: component, Status: models.ResultOK, Data: v}
	case models.ComponentResult:
		v.Component = component
		return v
	}

	rv := reflect.ValueOf(raw)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		items := make([]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			items[i] = rv.Index(i).Interface()
		}
		return models.ComponentResult{
			Component:  component,
			Status:     models.ResultOK,
			Data:       map[string]any{"items": items},
			TotalItems: len(items),
		}
	case reflect.Map:
		// Non-string-keyed maps are not documents; stringify like scalars.
	}

	result := models.ErrorResult(component, string(provider.KindValidationFailed),
		fmt.Sprintf("executor returned scalar %T", raw))
	result.Converted = true
	result.Data = map[string]any{"value": fmt.Sprint(raw)}
	return result
}

// NormalizeError converts an executor error into the component's error
// sentinel, mapping the error onto the taxonomy.
func NormalizeError(component string, err error) models.ComponentResult {
	return models.ErrorResult(component, string(classifyExecutorError(err)), err.Error())
}

func classifyExecutorError(err error) provider.ErrorKind {
	var exhausted *provider.ExhaustedError
	if errors.As(err, &exhausted) {
		return provider.KindAllProvidersExhausted
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return provider.KindTimeout
	case errors.Is(err, context.Canceled):
		return provider.KindCancelled
	}
	return provider.Classify(err)
}
