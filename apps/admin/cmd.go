package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/darasahq/darasa/core/principal"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

// cliActorID tags reconciliation audit entries made from this CLI.
const cliActorID = "admin-cli"

type commandLine struct {
	db            *sql.DB
	principalRepo principal.Repository
	reconciler    *principal.Reconciler
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS]                       - run database migrations (goose commands)")
	fmt.Println("  addsuperadmin -name NAME -email EMAIL        - create or update a super admin; password prompted")
	fmt.Println("  resetpassword -email EMAIL                   - reset a principal's password; password prompted")
	fmt.Println("  orphans                                      - list principals missing an institute link")
	fmt.Println("  emailconflicts                               - list principals colliding on an email")
	fmt.Println("  relink -principal ID -institute ID           - repair a principal's institute link")
	fmt.Println("  resolveconflict -email EMAIL -keep ID        - resolve an email conflict, keeping one principal")
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(syscall.Stdin)
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addSuperAdminCmd := flag.NewFlagSet("addsuperadmin", flag.ExitOnError)
	addSuperAdminName := addSuperAdminCmd.String("name", "", "The super admin's full name.")
	addSuperAdminEmail := addSuperAdminCmd.String("email", "", "The super admin's email. The password will be prompted next.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ExitOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The principal's email. The password will be prompted next.")

	relinkCmd := flag.NewFlagSet("relink", flag.ExitOnError)
	relinkPrincipal := relinkCmd.String("principal", "", "The principal's ID.")
	relinkInstitute := relinkCmd.String("institute", "", "The target institute's ID.")

	resolveConflictCmd := flag.NewFlagSet("resolveconflict", flag.ExitOnError)
	resolveConflictEmail := resolveConflictCmd.String("email", "", "The conflicting email.")
	resolveConflictKeep := resolveConflictCmd.String("keep", "", "The ID of the principal to keep.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "addsuperadmin":
		if err := addSuperAdminCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addSuperAdminName == "" || *addSuperAdminEmail == "" {
			addSuperAdminCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addSuperAdminCmd.Usage()
			return errHelp
		}
		return cli.addSuperAdmin(*addSuperAdminName, *addSuperAdminEmail, pwd)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd)

	case "orphans":
		return cli.listOrphans()

	case "emailconflicts":
		return cli.listEmailConflicts()

	case "relink":
		if err := relinkCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *relinkPrincipal == "" || *relinkInstitute == "" {
			relinkCmd.Usage()
			return errHelp
		}
		return cli.relink(*relinkPrincipal, *relinkInstitute)

	case "resolveconflict":
		if err := resolveConflictCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resolveConflictEmail == "" || *resolveConflictKeep == "" {
			resolveConflictCmd.Usage()
			return errHelp
		}
		return cli.resolveConflict(*resolveConflictEmail, *resolveConflictKeep)

	default:
		cli.printUsage()
		return errHelp
	}
}
