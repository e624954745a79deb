package onnx

import (
	"sort"

	"github.com/pkg/errors"
)

// CustomDomain is the operator domain of the layers that have no standard
// ONNX operator: BRelu6 and Shuffle.
const CustomDomain = "nnexport"

// ErrUnsupportedOperator is returned for operators without an import handler.
var ErrUnsupportedOperator = errors.New("unsupported operator")

// ErrUnsupportedAttribute is returned when an operator uses attribute values
// the layer graph cannot represent.
var ErrUnsupportedAttribute = errors.New("unsupported attribute")

// OpHandler imports one ONNX node into the layer graph under construction.
type OpHandler func(ctx *Context, node *NodeProto) error

// Registry maps ONNX operator types to import handlers.
type Registry struct {
	handlers map[string]OpHandler
}

// NewRegistry creates a registry with all supported operators.
func NewRegistry() *Registry {
	r := &Registry{
		handlers: make(map[string]OpHandler),
	}

	r.registerLayerOps()
	r.registerActivations()
	r.registerShapeOps()
	r.registerUtilityOps()

	return r
}

// Register adds or replaces a handler. Operators of a non-default domain are
// registered as "domain.OpType".
func (r *Registry) Register(opType string, handler OpHandler) {
	r.handlers[opType] = handler
}

// Get returns the handler of a node's operator.
func (r *Registry) Get(node *NodeProto) (OpHandler, bool) {
	h, ok := r.handlers[opKey(node)]
	return h, ok
}

// SupportedOps returns the supported operator types in sorted order.
func (r *Registry) SupportedOps() []string {
	ops := make([]string, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

func opKey(node *NodeProto) string {
	if node.Domain == "" || node.Domain == "ai.onnx" {
		return node.OpType
	}
	return node.Domain + "." + node.OpType
}

func unsupportedAttr(format string, args ...any) error {
	return errors.WithMessagef(ErrUnsupportedAttribute, format, args...)
}
