// Package builtin ships small reference tools: calculator, datetime
// and web fetch.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"

	"github.com/loopkit/loopkit/schema"
	"github.com/loopkit/loopkit/tools"
)

// Calculator evaluates basic arithmetic expressions.
type Calculator struct {
	approval schema.ApprovalMode
}

var _ tools.Tool = (*Calculator)(nil)

// NewCalculator creates a calculator tool.
func NewCalculator() *Calculator {
	return &Calculator{approval: schema.ApprovalNever}
}

func (c *Calculator) Name() string { return "calculator" }
func (c *Calculator) Description() string {
	return "Perform basic mathematical calculations"
}

func (c *Calculator) Schema() map[string]any {
	return tools.ObjectSchema(
		"Evaluate an arithmetic expression",
		map[string]any{
			"expression": tools.StringProperty("Expression to evaluate, e.g. '2 + 3 * 4'"),
		},
		"expression",
	)
}

func (c *Calculator) ApprovalMode() schema.ApprovalMode { return c.approval }

// Execute evaluates the expression.
func (c *Calculator) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Expression string `json:"expression"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", schema.NewValidationError("expression", string(args), "invalid JSON format")
	}
	if len(params.Expression) > 1000 {
		return "", fmt.Errorf("expression too long (max 1000 characters)")
	}

	node, err := parser.ParseExpr(params.Expression)
	if err != nil {
		return "", fmt.Errorf("invalid expression: %v", err)
	}
	result, err := evalNode(node)
	if err != nil {
		return "", err
	}
	return strconv.FormatFloat(result, 'f', -1, 64), nil
}

func evalNode(node ast.Node) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		return evalLit(n)
	case *ast.BinaryExpr:
		return evalBinary(n)
	case *ast.UnaryExpr:
		operand, err := evalNode(n.X)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return operand, nil
		case token.SUB:
			return -operand, nil
		default:
			return 0, fmt.Errorf("unsupported unary operator: %s", n.Op)
		}
	case *ast.ParenExpr:
		return evalNode(n.X)
	default:
		return 0, fmt.Errorf("unsupported expression type: %T", n)
	}
}

func evalLit(lit *ast.BasicLit) (float64, error) {
	switch lit.Kind {
	case token.INT:
		val, err := strconv.ParseInt(lit.Value, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer: %s", lit.Value)
		}
		return float64(val), nil
	case token.FLOAT:
		val, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid float: %s", lit.Value)
		}
		return val, nil
	default:
		return 0, fmt.Errorf("unsupported literal type: %s", lit.Kind)
	}
}

func evalBinary(expr *ast.BinaryExpr) (float64, error) {
	left, err := evalNode(expr.X)
	if err != nil {
		return 0, err
	}
	right, err := evalNode(expr.Y)
	if err != nil {
		return 0, err
	}
	switch expr.Op {
	case token.ADD:
		return left + right, nil
	case token.SUB:
		return left - right, nil
	case token.MUL:
		return left * right, nil
	case token.QUO:
		if right == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return left / right, nil
	case token.REM:
		if right == 0 {
			return 0, fmt.Errorf("modulo by zero")
		}
		return float64(int64(left) % int64(right)), nil
	default:
		return 0, fmt.Errorf("unsupported binary operator: %s", expr.Op)
	}
}
