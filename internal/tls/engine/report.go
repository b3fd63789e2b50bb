package engine

import (
	"fmt"
	"io"
	"os"

	"github.com/kolkov/threadlocal/internal/tls/sitedepot"
)

// WriteReport prints a violation report in the runtime's report layout:
//
//	==================
//	WARNING: THREAD-LOCAL STORAGE CONTRACT VIOLATION
//	use after thread exit: slot x(1) on thread 0#1
//	  Incarnation: 6f9c...
//
//	Slot declared at:
//	  main.main()
//	      /src/main.go:12
//	...
//	==================
func WriteReport(w io.Writer, v *ContractViolation) {
	fmt.Fprintf(w, "==================\n")
	fmt.Fprintf(w, "WARNING: THREAD-LOCAL STORAGE CONTRACT VIOLATION\n")
	fmt.Fprintf(w, "%s\n", v.Error())
	fmt.Fprintf(w, "  Incarnation: %s\n", v.Incarnation)

	if v.Site != 0 {
		fmt.Fprintf(w, "\nViolation at:\n%s", sitedepot.Get(v.Site).Format())
	}
	if v.DeclSite != 0 {
		fmt.Fprintf(w, "\nSlot declared at:\n%s", sitedepot.Get(v.DeclSite).Format())
	}
	if v.StartSite != 0 {
		fmt.Fprintf(w, "\nThread started at:\n%s", sitedepot.Get(v.StartSite).Format())
	}
	fmt.Fprintf(w, "==================\n")
}

// ReportViolation prints v to stderr and returns.
func ReportViolation(v *ContractViolation) {
	WriteReport(os.Stderr, v)
}

// HaltOnViolation prints v to stderr and panics with it.
//
// This is the default handler: a violation means the thread's storage
// can no longer be trusted, so the faulting thread must not continue.
func HaltOnViolation(v *ContractViolation) {
	WriteReport(os.Stderr, v)
	panic(v)
}
