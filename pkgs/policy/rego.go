package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/topdown/print"

	"github.com/gatelet/gatelet/pkgs/policy/api"
)

type printer struct{}

func (p printer) Print(ctx print.Context, s string) error {
	slog.Info(fmt.Sprintf("Rego Print: %s", s), "row", ctx.Location.Row)
	return nil
}

type regoEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewRego returns a new Rego based Evaluator. The policy must live in
// package main and bind `decision` (and optionally `rationale`) at
// the top level.
func NewRego(policy string) (Evaluator, error) {

	comp, err := precompile(policy, "default")
	if err != nil {
		return nil, fmt.Errorf("unable to compile rego policy: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	query, err := rego.New(
		rego.Compiler(comp),
		rego.Query("result := data.main"),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to prepare rego query: %w", err)
	}

	return &regoEvaluator{
		query: query,
	}, nil
}

func (p *regoEvaluator) Evaluate(ctx context.Context, req api.Request) (api.Response, error) {

	res, err := p.query.Eval(
		ctx,
		rego.EvalInput(req),
		rego.EvalPrintHook(printer{}),
	)
	if err != nil {
		return api.Response{}, fmt.Errorf("unable to eval rego: %w", err)
	}

	if len(res) == 0 {
		return api.Response{}, fmt.Errorf("invalid evaluation results: empty bindings")
	}

	bindings, ok := res[0].Bindings["result"].(map[string]any)
	if !ok {
		return api.Response{}, fmt.Errorf("invalid binding: result must be an object, got %T", res[0].Bindings["result"])
	}

	decision, ok := bindings["decision"].(string)
	if !ok {
		return api.Response{}, fmt.Errorf("invalid binding: decision must be a string, got %T", bindings["decision"])
	}

	out := api.Response{Decision: api.Decision(decision)}
	out.Rationale, _ = bindings["rationale"].(string)

	if err := out.Decision.Validate(); err != nil {
		return api.Response{}, fmt.Errorf("invalid rego decision: %w", err)
	}

	return out, nil
}

func precompile(policy string, name string, modules ...*ast.Module) (*ast.Compiler, error) {

	name = name + ".rego"

	compiler := ast.NewCompiler().WithEnablePrintStatements(true)
	module, err := prepareModule("main", policy)
	if err != nil {
		return nil, err
	}

	allModules := map[string]*ast.Module{
		name: module,
	}
	for _, m := range modules {
		allModules[m.Package.String()+".rego"] = m
	}

	compiler.Compile(allModules)

	if compiler.Failed() {
		return nil, fmt.Errorf("unable compile rego module: %w", compiler.Errors)
	}

	return compiler, nil
}

func prepareModule(name string, policy string) (*ast.Module, error) {

	caps := ast.CapabilitiesForThisVersion()

	module, err := ast.ParseModuleWithOpts(
		name,
		policy,
		ast.ParserOptions{
			Capabilities: caps,
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse rego module: %w", err)
	}

	return module, nil
}
