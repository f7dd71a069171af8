package main

import (
	"context"
	"fmt"
)

func (cli *commandLine) listOrphans() error {
	orphans, err := cli.reconciler.FindOrphans(context.Background())
	if err != nil {
		return err
	}
	if len(orphans) == 0 {
		fmt.Println("no orphan principals")
		return nil
	}
	for _, p := range orphans {
		fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Role, p.Email, p.Name)
	}
	return nil
}

func (cli *commandLine) listEmailConflicts() error {
	conflicts, err := cli.reconciler.FindEmailConflicts(context.Background())
	if err != nil {
		return err
	}
	if len(conflicts) == 0 {
		fmt.Println("no email conflicts")
		return nil
	}
	for _, c := range conflicts {
		fmt.Println(c.Email)
		for _, p := range c.Principals {
			fmt.Printf("\t%s\t%s\tinstitute=%s\n", p.ID, p.Role, p.InstituteID)
		}
	}
	return nil
}

func (cli *commandLine) relink(principalID, instituteID string) error {
	p, err := cli.reconciler.RelinkInstitute(context.Background(), cliActorID, principalID, instituteID)
	if err != nil {
		return err
	}
	fmt.Printf("principal %s relinked to institute %s\n", p.ID, p.InstituteID)
	return nil
}

func (cli *commandLine) resolveConflict(email, keepID string) error {
	removed, err := cli.reconciler.ResolveEmailConflict(context.Background(), cliActorID, email, keepID)
	if err != nil {
		return err
	}
	fmt.Printf("conflict resolved; %d principal(s) removed\n", removed)
	return nil
}
