package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <filename|all>",
	Short: "Delete a stored image, or every image",
	Long: `Delete a stored image and its index entry while the server is stopped.

"all" removes every indexed image and requires --yes.`,
	Args: cobra.ExactArgs(1),
	Run:  runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false, "Confirm deleting all images")
}

func runDelete(cmd *cobra.Command, args []string) {
	svc, cleanup := offlineService(cmd)
	defer cleanup()

	green := color.New(color.FgGreen)
	ctx := cmd.Context()

	if args[0] != "all" {
		if _, err := svc.Delete(ctx, args[0]); err != nil {
			exitError("%v", err)
		}
		green.Printf("Deleted %s\n", args[0])
		return
	}

	if !deleteYes {
		exitError("refusing to delete all images without --yes")
	}
	res, err := svc.DeleteAll(ctx)
	if err != nil {
		color.New(color.FgRed).Printf("Deleted %d file(s), %d failed\n", len(res.Deleted), len(res.Failed))
		exitError("%v", err)
	}
	green.Printf("Deleted %d file(s)\n", len(res.Deleted))
	fmt.Println("Index cleared")
}
