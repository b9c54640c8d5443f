// Package calculator provides arithmetic and finance tools served over MCP.
package calculator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/shaharia-lab/mcpbridge/mcp"
)

var (
	ErrDivideByZero         = errors.New("Cannot divide by zero")
	ErrNegativeSquareRoot   = errors.New("Cannot calculate square root of negative number")
	ErrNonPositivePrincipal = errors.New("Principal must be positive")
	ErrNegativeRate         = errors.New("Annual rate cannot be negative")
	ErrNonPositiveYears     = errors.New("Years must be positive")
	ErrNonPositiveFrequency = errors.New("Compounding frequency must be positive")
)

// Add returns a + b.
func Add(a, b float64) float64 { return a + b }

// Subtract returns a - b.
func Subtract(a, b float64) float64 { return a - b }

// Multiply returns a * b.
func Multiply(a, b float64) float64 { return a * b }

// Divide returns a / b, or ErrDivideByZero when b is zero.
func Divide(a, b float64) (float64, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

// Sqrt returns the square root of number. Negative input is an error.
func Sqrt(number float64) (float64, error) {
	if number < 0 {
		return 0, ErrNegativeSquareRoot
	}
	return math.Sqrt(number), nil
}

// Power returns base raised to exponent.
func Power(base, exponent float64) float64 {
	return math.Pow(base, exponent)
}

// Percentage returns percentage percent of number, e.g. 15 and 100 give 15.
func Percentage(percentage, number float64) float64 {
	return (percentage / 100) * number
}

// CompoundInterestResult is the outcome of CompoundInterest.
type CompoundInterestResult struct {
	Principal     float64 `json:"principal"`
	FinalAmount   float64 `json:"finalAmount"`
	TotalInterest float64 `json:"totalInterest"`
	Years         int     `json:"years"`
	AnnualRate    float64 `json:"annualRate"`
}

func (r CompoundInterestResult) String() string {
	return fmt.Sprintf("Compound Interest Calculation:\nPrincipal: $%.2f\nAnnual Rate: %.2f%%\nYears: %d\nFinal Amount: $%.2f\nTotal Interest: $%.2f",
		r.Principal, r.AnnualRate, r.Years, r.FinalAmount, r.TotalInterest)
}

// CompoundInterest computes A = P(1 + r/n)^(n*t) where annualRate is a percentage.
func CompoundInterest(principal, annualRate float64, years, compoundingFrequency int) (CompoundInterestResult, error) {
	switch {
	case principal <= 0:
		return CompoundInterestResult{}, ErrNonPositivePrincipal
	case annualRate < 0:
		return CompoundInterestResult{}, ErrNegativeRate
	case years <= 0:
		return CompoundInterestResult{}, ErrNonPositiveYears
	case compoundingFrequency <= 0:
		return CompoundInterestResult{}, ErrNonPositiveFrequency
	}

	rate := annualRate / 100
	n := float64(compoundingFrequency)
	amount := principal * math.Pow(1+rate/n, n*float64(years))

	return CompoundInterestResult{
		Principal:     principal,
		FinalAmount:   amount,
		TotalInterest: amount - principal,
		Years:         years,
		AnnualRate:    annualRate,
	}, nil
}

type pairInput struct {
	A float64 `json:"a" jsonschema:"description=First operand"`
	B float64 `json:"b" jsonschema:"description=Second operand"`
}

type numberInput struct {
	Number float64 `json:"number" jsonschema:"description=Input number"`
}

type powerInput struct {
	Base     float64 `json:"base" jsonschema:"description=Base"`
	Exponent float64 `json:"exponent" jsonschema:"description=Exponent"`
}

type percentageInput struct {
	Percentage float64 `json:"percentage" jsonschema:"description=Percentage to take, e.g. 15"`
	Number     float64 `json:"number" jsonschema:"description=Number to take the percentage of"`
}

type compoundInterestInput struct {
	Principal            float64 `json:"principal" jsonschema:"description=Initial amount"`
	AnnualRate           float64 `json:"annualRate" jsonschema:"description=Annual interest rate as a percentage"`
	Years                int     `json:"years" jsonschema:"description=Number of years"`
	CompoundingFrequency int     `json:"compoundingFrequency" jsonschema:"description=Compounding periods per year"`
}

// Register installs every calculator tool into reg.
func Register(reg *mcp.ToolRegistry) error {
	type entry struct {
		name, description string
		build             func(name, description string) (mcp.Tool, mcp.ToolHandler, error)
	}

	entries := []entry{
		{"add", "Add two numbers together", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in pairInput) (float64, error) { return Add(in.A, in.B), nil })
		}},
		{"subtract", "Subtract the second number from the first", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in pairInput) (float64, error) { return Subtract(in.A, in.B), nil })
		}},
		{"multiply", "Multiply two numbers", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in pairInput) (float64, error) { return Multiply(in.A, in.B), nil })
		}},
		{"divide", "Divide the first number by the second", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in pairInput) (float64, error) { return Divide(in.A, in.B) })
		}},
		{"sqrt", "Calculate the square root of a number", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in numberInput) (float64, error) { return Sqrt(in.Number) })
		}},
		{"power", "Calculate a number raised to a power", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in powerInput) (float64, error) { return Power(in.Base, in.Exponent), nil })
		}},
		{"calculateCompoundInterest", "Calculate compound interest given principal, annual rate (as percentage), years, and compounding frequency per year", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in compoundInterestInput) (CompoundInterestResult, error) {
				return CompoundInterest(in.Principal, in.AnnualRate, in.Years, in.CompoundingFrequency)
			})
		}},
		{"calculatePercentage", "Calculate what percentage one number is of another (e.g., percentage=15, number=100 returns 15)", func(n, d string) (mcp.Tool, mcp.ToolHandler, error) {
			return mcp.NewTypedTool(n, d, func(_ context.Context, in percentageInput) (float64, error) {
				return Percentage(in.Percentage, in.Number), nil
			})
		}},
	}

	for _, e := range entries {
		tool, handler, err := e.build(e.name, e.description)
		if err != nil {
			return fmt.Errorf("failed to build tool %s: %w", e.name, err)
		}
		if err := reg.Register(tool, handler); err != nil {
			return err
		}
	}
	return nil
}
