package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNativeName(t *testing.T) {
	tests := []struct {
		class  string
		method string
		want   string
	}{
		{"java/lang/Object", "hashCode", "Java_java_lang_Object_hashCode"},
		{"java/lang/String", "intern", "Java_java_lang_String_intern"},
		{"pkg/Outer$Inner", "get", "Java_pkg_Outer_00024Inner_get"},
		{"a/b_c/D", "run_fast", "Java_a_b_1c_D_run_1fast"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DeriveNativeName(tt.class, tt.method))
	}
}

func TestDeriveOverloadedNativeName(t *testing.T) {
	// The overload suffix escapes the concatenated parameter
	// descriptors: ; -> _2 and [ -> _3.
	got := DeriveOverloadedNativeName("java/lang/System", "arraycopy",
		"(Ljava/lang/Object;ILjava/lang/Object;II)V")
	assert.Equal(t,
		"Java_java_lang_System_arraycopy__Ljava_lang_Object_2ILjava_lang_Object_2II",
		got)

	got = DeriveOverloadedNativeName("X", "f", "([I)V")
	assert.Equal(t, "Java_X_f___3I", got)
}

func TestNativeRegistryLookup(t *testing.T) {
	reg := newNativeRegistry()
	fn := func(env *Env, recv *Object, args []Value) (Value, error) {
		return IntValue(7), nil
	}
	reg.Register("A", "f", "(I)V", fn)

	assert.NotNil(t, reg.Lookup("A", "f", "(I)V"))
	// The short name matches any overload not bound more precisely.
	assert.NotNil(t, reg.Lookup("A", "f", "(J)V"))
	assert.Nil(t, reg.Lookup("A", "g", "()V"))
}
