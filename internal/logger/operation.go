package logger

import "context"

type operationKey struct{}

// Operation identifies one long-running unit of work (a download, an
// extraction, a cleanup batch, an update run) for log correlation.
type Operation struct {
	ID   string
	Kind string
}

// ContextWithOperation returns a derived context carrying op.
func ContextWithOperation(ctx context.Context, op Operation) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, operationKey{}, op)
}

// OperationFromContext extracts the Operation stored in ctx, if any.
func OperationFromContext(ctx context.Context) (Operation, bool) {
	if ctx == nil {
		return Operation{}, false
	}
	op, ok := ctx.Value(operationKey{}).(Operation)
	return op, ok
}

func operationFieldsFromContext(ctx context.Context) []Field {
	op, ok := OperationFromContext(ctx)
	if !ok {
		return nil
	}

	var fields []Field
	if op.Kind != "" {
		fields = append(fields, String("op", op.Kind))
	}
	if op.ID != "" {
		fields = append(fields, String("op_id", op.ID))
	}
	return fields
}
