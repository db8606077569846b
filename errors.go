package andersen

import "errors"

var (
	// ErrUnhandledConstant reports a constant expression kind outside the
	// whitelist (getelementptr, bitcast, addrspacecast, inttoptr, ptrtoint,
	// null, undef, zeroinitializer, globals).
	ErrUnhandledConstant = errors.New("unhandled constant expression")

	// ErrUnsupportedInstruction reports an instruction the collector cannot
	// translate (exception handling and atomic memory operations).
	ErrUnsupportedInstruction = errors.New("unsupported instruction")

	// ErrUnknownLibraryFunction reports a declaration without a summary.
	// The collector does not fail on it; the callsite degrades to the
	// universal-pointer pollute path.
	ErrUnknownLibraryFunction = errors.New("unknown library function")
)
