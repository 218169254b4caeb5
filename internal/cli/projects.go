package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/sqlchat-go/internal/models"
	"github.com/raphaelgruber/sqlchat-go/internal/session"
)

var (
	projectDescription string
	projectForce       bool
)

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "List, create and delete projects",
	Long: `Manage projects. A project groups uploaded documents, conversations and
purchase orders.

Subcommands:
  list    List projects with document counts (default)
  create  Create a project
  delete  Delete a project and everything in it

Examples:
  sqlchat projects
  sqlchat projects create "Sales DB" --description "Postgres sales schema"
  sqlchat projects delete "Sales DB" --force`,
	Args: cobra.NoArgs,
	RunE: runProjectsList,
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectsList,
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsCreate,
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project by ID or name",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectsDelete,
}

func init() {
	projectsCreateCmd.Flags().StringVarP(&projectDescription, "description", "d", "", "project description")
	projectsDeleteCmd.Flags().BoolVarP(&projectForce, "force", "f", false, "skip confirmation")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
}

func runProjectsList(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}

	// The controller loads document counts for all projects concurrently.
	ctrl := session.NewController(apiClient, nil, sessionConfig())
	defer ctrl.Close()

	if err := ctrl.LoadProjects(cmd.Context()); err != nil {
		return err
	}
	projects := ctrl.Snapshot().Projects

	if len(projects) == 0 {
		fmt.Println("No projects found.")
		return nil
	}

	fmt.Printf("Projects (%d):\n\n", len(projects))
	for _, p := range projects {
		c := p.DocumentCounts
		fmt.Printf("- %s (%s)\n", p.Name, p.ID)
		fmt.Printf("  Documents: %d (metadata %d, business logic %d, references %d)\n",
			c.Total, c.Metadata, c.BusinessLogic, c.References)
		if verbose && p.Description != "" {
			fmt.Printf("  %s\n", p.Description)
		}
	}
	return nil
}

func runProjectsCreate(cmd *cobra.Command, args []string) error {
	if err := requireLogin(); err != nil {
		return err
	}

	project, err := apiClient.CreateProject(cmd.Context(), args[0], projectDescription)
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}

	fmt.Printf("Created project: %s (%s)\n", project.Name, project.ID)
	return nil
}

func runProjectsDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if err := requireLogin(); err != nil {
		return err
	}

	ctrl := session.NewController(apiClient, nil, sessionConfig())
	defer ctrl.Close()

	if err := ctrl.LoadProjects(ctx); err != nil {
		return err
	}
	project, err := pickProject(ctrl.Snapshot().Projects, args[0])
	if err != nil {
		return err
	}

	if !projectForce {
		fmt.Printf("About to delete: %s (%s)\n", project.Name, project.ID)
		fmt.Printf("This also deletes its %d document(s), conversations and purchase orders.\n", project.DocumentCounts.Total)
		ok, err := confirm()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled.")
			return nil
		}
	}

	if err := ctrl.DeleteProject(ctx, project.ID); err != nil {
		return err
	}

	fmt.Printf("Deleted: %s\n", project.Name)
	return nil
}

// confirm asks "Continue? [y/N]" on stdin.
func confirm() (bool, error) {
	fmt.Print("\nContinue? [y/N]: ")

	reader := bufio.NewReader(os.Stdin)
	response, err := reader.ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}

// projectController returns a controller with project selected, without
// connecting the event channel or starting the pollers.
func projectController(project models.Project) *session.Controller {
	ctrl := session.NewController(apiClient, nil, sessionConfig())
	ctrl.Store().Dispatch(session.ProjectsLoaded{Projects: []models.Project{project}})
	ctrl.Store().Dispatch(session.ProjectSelected{ID: project.ID})
	return ctrl
}

// sessionConfig builds controller settings from the loaded configuration.
func sessionConfig() session.Config {
	return session.Config{
		EmbeddingInterval: cfg.EmbeddingPollInterval,
		POInterval:        cfg.POPollInterval,
		Logger:            logger,
		Metrics:           collector,
	}
}
