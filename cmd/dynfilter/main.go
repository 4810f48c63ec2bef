package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/siegeon/dynfilter"
	"github.com/siegeon/dynfilter/annotations"
	"github.com/siegeon/dynfilter/engine"
	"github.com/siegeon/dynfilter/plan"
	"github.com/siegeon/dynfilter/registry"
	"github.com/siegeon/dynfilter/rewriter"
	"github.com/siegeon/dynfilter/storage"
)

func main() {
	var dbPath string
	var inMemory bool
	var verbose bool
	var strict bool

	flag.StringVar(&dbPath, "db", "", "row store path (default: in-memory)")
	flag.BoolVar(&inMemory, "mem", false, "force an in-memory row store")
	flag.BoolVar(&verbose, "verbose", false, "verbose mode (show rewrite/bind annotations)")
	flag.BoolVar(&strict, "strict", false, "fail on filters whose column is missing from a binding")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Demo of declarative row filtering with plan injection.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                  # Run demo on an in-memory store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -db accounts.db  # Persist demo rows to a badger store\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -verbose         # Show filter injection and parameter binding\n", os.Args[0])
	}
	flag.Parse()

	var store *storage.RowStore
	var err error
	if dbPath != "" && !inMemory {
		store, err = storage.NewRowStore(dbPath)
	} else {
		store, err = storage.NewInMemoryRowStore()
	}
	if err != nil {
		log.Fatalf("Failed to open row store: %v", err)
	}
	defer store.Close()

	var handler annotations.Handler
	if verbose {
		formatter := annotations.NewOutputFormatter(os.Stderr)
		handler = formatter.Handle
	}

	if err := runDemo(store, handler, strict); err != nil {
		log.Fatalf("Demo failed: %v", err)
	}
}

func runDemo(store *storage.RowStore, handler annotations.Handler, strict bool) error {
	reg := registry.New()

	account := registry.NewEntitySchema("Account", nil).
		AddColumn("id", "id").
		AddColumn("tenantID", "tenant_id").
		AddColumn("isDeleted", "is_deleted").
		AddColumn("name", "name").
		AddColumn("createdAt", "created_at")
	reg.RegisterSchema(account)

	if _, err := reg.RegisterColumnFilter("Account", "TenantFilter", "tenantID"); err != nil {
		return err
	}
	if _, err := reg.RegisterColumnFilter("Account", "SoftDelete", "isDeleted"); err != nil {
		return err
	}

	if err := seed(store); err != nil {
		return err
	}

	e := engine.New(engine.Config{
		Registry: reg,
		Source:   store,
		Handler:  handler,
		Options:  rewriter.Options{StrictColumns: strict},
	})

	// Soft-deleted rows are hidden process-wide; the tenant is chosen
	// per session below.
	if err := e.SetGlobalParameter("SoftDelete", "", false); err != nil {
		return err
	}

	formatter := engine.NewTableFormatter()
	scan := func() plan.Node { return &plan.Scan{Binding: plan.NewBinding(account)} }

	fmt.Println("== No tenant selected: TenantFilter disabled by null ==")
	admin := e.NewSession("admin")
	defer admin.Close()
	rel, err := admin.Query(scan())
	if err != nil {
		return err
	}
	fmt.Println(formatter.FormatRelation(rel))

	fmt.Println("== Session pinned to tenant 1 ==")
	tenant1 := e.NewSession("tenant-1")
	defer tenant1.Close()
	if err := tenant1.SetParameter("TenantFilter", "", int64(1)); err != nil {
		return err
	}
	if rel, err = tenant1.Query(scan()); err != nil {
		return err
	}
	fmt.Println(formatter.FormatRelation(rel))

	fmt.Println("== Same session, SoftDelete disabled: deleted rows visible ==")
	if err := tenant1.DisableFilter("SoftDelete"); err != nil {
		return err
	}
	if rel, err = tenant1.Query(scan()); err != nil {
		return err
	}
	fmt.Println(formatter.FormatRelation(rel))

	fmt.Println("== Deferred parameter: tenant resolved at each execution ==")
	current := int64(1)
	if err := e.SetGlobalParameter("TenantFilter", "", dynfilter.Deferred(func() interface{} {
		return current
	})); err != nil {
		return err
	}
	roaming := e.NewSession("roaming")
	defer roaming.Close()
	rewritten, err := e.RewritePlan(scan(), roaming)
	if err != nil {
		return err
	}
	for _, tenant := range []int64{1, 2} {
		current = tenant
		if rel, err = e.Execute(rewritten, roaming); err != nil {
			return err
		}
		fmt.Printf("tenant %d:\n%s\n", tenant, formatter.FormatRelation(rel))
	}

	return nil
}

func seed(store *storage.RowStore) error {
	if err := store.DeleteAll("Account"); err != nil {
		return err
	}
	now := time.Now().UTC().Truncate(time.Second)
	return store.PutAll("Account", []plan.Row{
		{"id": int64(1), "tenant_id": int64(1), "is_deleted": false, "name": "alpha", "created_at": now},
		{"id": int64(2), "tenant_id": int64(1), "is_deleted": true, "name": "alpha-old", "created_at": now.Add(-time.Hour)},
		{"id": int64(3), "tenant_id": int64(2), "is_deleted": false, "name": "beta", "created_at": now},
		{"id": int64(4), "tenant_id": int64(2), "is_deleted": false, "name": "beta-2", "created_at": now},
	})
}
