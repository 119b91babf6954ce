//go:build !windows

package grammar

/*
#include <dlfcn.h>
#include <stdlib.h>

typedef const void* (*ts_lang_fn)(void);

// load_ts_lang resolves and calls the grammar's tree_sitter_<lang> entry
// point, returning the TSLanguage pointer it produces. The handle is never
// dlclose'd: the language must outlive every parser built from it.
const void* load_ts_lang(const char* path, const char* name) {
    void* handle = dlopen(path, RTLD_NOW);
    if (!handle) return NULL;
    ts_lang_fn fn = (ts_lang_fn)dlsym(handle, name);
    if (!fn) return NULL;
    return fn();
}
*/
import "C"
import (
	"fmt"
	"unsafe"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// LoadDynamic loads a Tree-sitter language from a shared object file.
func LoadDynamic(path, langName string) (*sitter.Language, error) {
	symbol := "tree_sitter_" + langName
	cPath := C.CString(path)
	cSymbol := C.CString(symbol)
	defer C.free(unsafe.Pointer(cPath))
	defer C.free(unsafe.Pointer(cSymbol))

	ptr := C.load_ts_lang(cPath, cSymbol)
	if ptr == nil {
		return nil, fmt.Errorf("failed to load %s from %s", symbol, path)
	}
	return sitter.NewLanguage(ptr), nil
}
