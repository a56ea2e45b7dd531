package ast

// Walk calls visitor for node and, while visitor returns true, for each of its
// descendants in source order.
func Walk(node *Node, visitor func(n *Node) bool) {
	if node == nil || !visitor(node) { return }
	for _, child := range Children(node) {
		Walk(child, visitor)
	}
}

// WalkList walks every node of a statement list.
func WalkList(nodes []*Node, visitor func(n *Node) bool) {
	for _, n := range nodes {
		Walk(n, visitor)
	}
}

// Children returns the direct child nodes of node in source order. Nil
// children are omitted.
func Children(node *Node) []*Node {
	var out []*Node
	add := func(ns ...*Node) {
		for _, n := range ns {
			if n != nil {
				out = append(out, n)
			}
		}
	}
	switch d := node.Data.(type) {
	case BoolOpNode:
		add(d.Values...)
	case BinOpNode:
		add(d.Left, d.Right)
	case UnaryOpNode:
		add(d.Operand)
	case LambdaNode:
		add(d.Args.Defaults...)
		add(d.Body)
	case IfExpNode:
		add(d.Test, d.Body, d.OrElse)
	case DictNode:
		for i := range d.Keys {
			add(d.Keys[i], d.Values[i])
		}
	case SetNode:
		add(d.Elts...)
	case CompNode:
		add(d.Elt, d.Value)
		for _, g := range d.Generators {
			add(g.Target, g.Iter)
			add(g.Ifs...)
		}
	case YieldNode:
		add(d.Value)
	case CompareNode:
		add(d.Left)
		add(d.Comparators...)
	case CallNode:
		add(d.Func)
		add(d.Args...)
		for _, kw := range d.Keywords {
			add(kw.Value)
		}
		add(d.StarArgs, d.KWArgs)
	case ReprNode:
		add(d.Value)
	case AttributeNode:
		add(d.Value)
	case SubscriptNode:
		add(d.Value, d.Slice)
	case ListNode:
		add(d.Elts...)
	case TupleNode:
		add(d.Elts...)
	case IndexNode:
		add(d.Value)
	case SliceNode:
		add(d.Lower, d.Upper, d.Step)
	case ExtSliceNode:
		add(d.Dims...)
	case ModuleNode:
		add(d.Body...)
	case FunctionDefNode:
		add(d.Decorators...)
		add(d.Args.Defaults...)
		add(d.Body...)
	case ClassDefNode:
		add(d.Decorators...)
		add(d.Bases...)
		add(d.Body...)
	case ReturnNode:
		add(d.Value)
	case DeleteNode:
		add(d.Targets...)
	case AssignNode:
		add(d.Targets...)
		add(d.Value)
	case AugAssignNode:
		add(d.Target, d.Value)
	case PrintNode:
		add(d.Dest)
		add(d.Values...)
	case ForNode:
		add(d.Target, d.Iter)
		add(d.Body...)
		add(d.OrElse...)
	case WhileNode:
		add(d.Test)
		add(d.Body...)
		add(d.OrElse...)
	case IfNode:
		add(d.Test)
		add(d.Body...)
		add(d.OrElse...)
	case WithNode:
		for _, item := range d.Items {
			add(item.ContextExpr, item.OptionalVars)
		}
		add(d.Body...)
	case RaiseNode:
		add(d.Type, d.Inst, d.Tback)
	case TryNode:
		add(d.Body...)
		for _, h := range d.Handlers {
			add(h.Type, h.Name)
			add(h.Body...)
		}
		add(d.OrElse...)
		add(d.FinalBody...)
	case AssertNode:
		add(d.Test, d.Msg)
	case ExecNode:
		add(d.Body, d.Globals, d.Locals)
	case ExprStmtNode:
		add(d.Value)
	}
	return out
}
