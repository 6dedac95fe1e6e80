package connect

import (
	"reflect"

	"google.golang.org/protobuf/proto"
)

// newMessage allocates a fresh, zero-valued instance of a proto.Message
// pointer type via its type parameter. Grounded on the teacher's
// rpc.NewMethod[TIn, TOut], which extracts reflect.Type from a generic
// zero value the same way; here the zero value is a nil pointer of
// concrete type M, so reflect.TypeOf still resolves its element type.
func newMessage[M proto.Message]() M {
	var zero M
	t := reflect.TypeOf(zero)
	if t == nil || t.Kind() != reflect.Ptr {
		panic("connect: message type parameter must be a pointer implementing proto.Message")
	}
	return reflect.New(t.Elem()).Interface().(M)
}
