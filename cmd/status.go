package cmd

import (
	"context"
	"fmt"

	"grimm.is/cordon/internal/manager"
)

// RunStatus prints restriction status for one user, or all users when
// username is empty.
func RunStatus(configPath, username string) error {
	a, err := buildApp(context.Background(), configPath, false)
	if err != nil {
		return err
	}
	defer a.close()

	var reports []*manager.Report
	if username == "" {
		reports, err = a.manager.StatusAll()
		if err != nil {
			return err
		}
		if len(reports) == 0 {
			fmt.Println("no restrictions recorded")
			return nil
		}
	} else {
		rep, err := a.manager.Status(username)
		if err != nil {
			if manager.IsKind(err, manager.KindAlreadyInState) {
				fmt.Printf("%s is not restricted\n", username)
				return nil
			}
			return err
		}
		reports = []*manager.Report{rep}
	}

	out, err := manager.RenderYAML(reports)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
