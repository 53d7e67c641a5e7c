package cli

import (
	"emperror.dev/errors"
	"github.com/spf13/cobra"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for au.

To load completions for your shell:

Bash:
  # To load completions for each session, execute once:
  au completion bash > /etc/bash_completion.d/au

  # Or add to your ~/.bashrc or ~/.bash_profile:
  source <(au completion bash)

Zsh:
  # To load completions for each session, execute once:
  au completion zsh > "${fpath[1]}/_au"

  # Or add to your ~/.zshrc:
  source <(au completion zsh)

  # You may need to force rebuild the completion cache:
  rm -f ~/.zcompdump
  compinit

Fish:
  # To load completions for each session, execute once:
  au completion fish > ~/.config/fish/completions/au.fish

  # Or add to your ~/.config/fish/config.fish:
  au completion fish | source

PowerShell:
  # To load completions for each session, run:
  au completion powershell | Out-String | Invoke-Expression

  # Or add to your PowerShell profile:
  # (Microsoft.PowerShell_profile.ps1 or profile.ps1)
  au completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactValidArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(stdout)
		}
		return errors.Errorf("unsupported shell type: %s", args[0])
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
