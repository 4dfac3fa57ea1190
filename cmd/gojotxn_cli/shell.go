package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/sushant-115/gojotxn/core/box"
	"github.com/sushant-115/gojotxn/core/recovery"
	"github.com/sushant-115/gojotxn/core/transaction"
)

// shell executes one command line at a time against the box in its fiber.
type shell struct {
	box     *box.Box
	tracker *recovery.Tracker
	fiber   transaction.Fiber
	out     io.Writer
}

const helpText = `Commands:
  begin                                start a transaction
  begin2pc <txid> <coordinator>        start a two-phase transaction
  prepare                              prepare the two-phase transaction
  commit                               commit the current transaction
  rollback                             roll back the current transaction
  insert <space> <key> <value>         insert a tuple, failing on duplicates
  replace <space> <key> <value>        insert or overwrite a tuple
  delete <space> <key>                 delete a tuple
  get <space> <key>                    read a tuple
  select <space> [from] [limit]        read tuples in key order
  spaces                               list spaces
  status                               show transaction and vclock
  help
  exit / quit`

// prompt reflects whether the fiber has a transaction.
func (s *shell) prompt() string {
	if txn := transaction.InTxn(s.fiber); txn != nil {
		return fmt.Sprintf("gojotxn(%s)> ", txn.State())
	}
	return "gojotxn> "
}

// exec runs one command. It returns false when the shell should exit.
func (s *shell) exec(line string) bool {
	args := strings.Fields(line)
	if len(args) == 0 {
		return true
	}
	if err := s.dispatch(strings.ToLower(args[0]), args[1:]); err != nil {
		if errors.Is(err, errQuit) {
			return false
		}
		fmt.Fprintf(s.out, "Error: %v\n", err)
	}
	return true
}

var errQuit = errors.New("quit")

func (s *shell) dispatch(cmd string, args []string) error {
	switch cmd {
	case "begin":
		return s.ok(s.box.Begin(s.fiber))
	case "begin2pc":
		if len(args) != 2 {
			return fmt.Errorf("begin2pc requires <txid> <coordinator>")
		}
		txID, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("bad txid %q: %w", args[0], err)
		}
		coord, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("bad coordinator %q: %w", args[1], err)
		}
		return s.ok(s.box.BeginTwoPhase(s.fiber, txID, uint32(coord)))
	case "prepare":
		return s.ok(s.box.PrepareTwoPhase(s.fiber))
	case "commit":
		return s.ok(s.box.Commit(s.fiber))
	case "rollback":
		return s.ok(s.box.Rollback(s.fiber))
	case "insert", "replace":
		if len(args) < 3 {
			return fmt.Errorf("%s requires <space> <key> <value>", cmd)
		}
		space, err := s.space(args[0])
		if err != nil {
			return err
		}
		value := []byte(strings.Join(args[2:], " "))
		if cmd == "insert" {
			return s.ok(s.box.Insert(s.fiber, space.ID, args[1], value))
		}
		return s.ok(s.box.Replace(s.fiber, space.ID, args[1], value))
	case "delete":
		if len(args) != 2 {
			return fmt.Errorf("delete requires <space> <key>")
		}
		space, err := s.space(args[0])
		if err != nil {
			return err
		}
		return s.ok(s.box.Delete(s.fiber, space.ID, args[1]))
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get requires <space> <key>")
		}
		space, err := s.space(args[0])
		if err != nil {
			return err
		}
		tuple, err := s.box.Get(s.fiber, space.ID, args[1])
		if err != nil {
			return err
		}
		if tuple == nil {
			fmt.Fprintln(s.out, "(not found)")
			return nil
		}
		fmt.Fprintf(s.out, "%s = %s\n", tuple.Key, tuple.Data)
		return nil
	case "select":
		return s.selectTuples(args)
	case "spaces":
		for _, space := range s.box.Spaces() {
			kind := ""
			if space.Temporary {
				kind = " (temporary)"
			}
			fmt.Fprintf(s.out, "%d\t%s\t%s%s\n", space.ID, space.Name, space.Engine().Name(), kind)
		}
		return nil
	case "status":
		if txn := transaction.InTxn(s.fiber); txn != nil {
			fmt.Fprintf(s.out, "transaction %s: state=%s engine=%s statements=%d rows=%d\n",
				txn.ID, txn.State(), engineName(txn), len(txn.Statements()), txn.RowCount())
		} else {
			fmt.Fprintln(s.out, "no active transaction")
		}
		fmt.Fprintf(s.out, "vclock %s, signature %d\n", s.tracker.Vclock(), s.tracker.Signature())
		return nil
	case "help":
		fmt.Fprintln(s.out, helpText)
		return nil
	case "exit", "quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %q, type 'help' for a list of commands", cmd)
	}
}

func (s *shell) ok(err error) error {
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, "OK")
	return nil
}

// space resolves a space given by name or id.
func (s *shell) space(ref string) (*transaction.Space, error) {
	if id, err := strconv.ParseUint(ref, 10, 32); err == nil {
		return s.box.Space(uint32(id))
	}
	return s.box.SpaceByName(ref)
}

func (s *shell) selectTuples(args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("select requires <space> [from] [limit]")
	}
	space, err := s.space(args[0])
	if err != nil {
		return err
	}
	from, limit := "", 0
	if len(args) > 1 {
		from = args[1]
	}
	if len(args) > 2 {
		if limit, err = strconv.Atoi(args[2]); err != nil {
			return fmt.Errorf("bad limit %q: %w", args[2], err)
		}
	}
	tuples, err := s.box.Select(s.fiber, space.ID, from, limit)
	if err != nil {
		return err
	}
	for _, t := range tuples {
		fmt.Fprintf(s.out, "%s = %s\n", t.Key, t.Data)
	}
	fmt.Fprintf(s.out, "(%d tuples)\n", len(tuples))
	return nil
}

func engineName(txn *transaction.Txn) string {
	if e := txn.Engine(); e != nil {
		return e.Name()
	}
	return "none"
}
