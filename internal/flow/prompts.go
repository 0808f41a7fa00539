package flow

// Prompts offered to the user before they type their own.
const (
	DefaultCodeInterpreterPrompt = `Could you please analyse the movies and box office gross using the following data and producing a bar chart image.

Movie Title	Release Year	IMDb Rating	Rotten Tomatoes	Box Office Gross (USD)
Citizen Kane	1941	8.3	99%	$1.6 million
The Hoodlum Saint	1946	6.2	N/A	N/A
Cinderella	1950	7.3	98%	N/A
My Fair Lady	1964	7.8	95%	$72 million
Oliver!	1968	7.4	85%	$77.4 million
Rocky	1976	8.1	92%	$225 million
The Jerk	1979	7.1	83%	$73.7 million
Scarface	1983	8.3	81%	$66 million
Trading Places	1983	7.5	88%	$90.4 million
Goodfellas	1990	8.7	96%	$47.1 million
Pretty Woman	1990	7.1	64%	$463.4 million
The Pursuit of Happyness	2006	8.0	67%	$307.1 million
Slumdog Millionaire	2008	8.0	91%	$378.1 million
The Social Network	2010	7.7	96%	$224.9 million
Limitless	2011	7.4	70%	$161.8 million
The Wolf of Wall Street	2013	8.2	79%	$392 million
Joy	2015	6.6	60%	$101.1 million
Straight Outta Compton	2015	7.8	89%	$201.6 million
The White Tiger	2021	7.1	91%	N/A
Dumb Money	2023	7.2	84%	$45.1 million
`

	DefaultRAGPrompt = "What are the key points from this document?"

	DefaultCombinedPrompt = "Could you please analyse the movies and box office gross using the following data and producing a bar chart image."
)
