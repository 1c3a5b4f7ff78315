package formula

// node is an evaluable expression tree element.
type node interface {
	eval(env *env) (any, error)
}

type literal struct {
	value any
}

type reference struct {
	id string
}

type unary struct {
	op      string
	operand node
}

type binary struct {
	op          string
	left, right node
}

type call struct {
	name string
	fn   builtin
	args []node
}
